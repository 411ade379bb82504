package main

import (
	"errors"
	"net/http"

	"github.com/CodedInternet/iotcar/comms"
	"github.com/CodedInternet/iotcar/onboard"
	"github.com/CodedInternet/iotcar/settings"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// Device is the part of the car the admin API uses.
type Device interface {
	onboard.Actuator
	Stop() error
	State() onboard.ActuatorState
	Subscribe() (id int, states <-chan onboard.ActuatorState)
	Unsubscribe(id int)
}

type SettingPayload struct {
	Value *int `json:"value"`
}

func (s *SettingPayload) Bind(r *http.Request) error {
	if s.Value == nil {
		return errors.New("value is required")
	}
	return nil
}

type adminAPI struct {
	device Device
	store  *settings.Store
}

func newRouter(device Device, store *settings.Store) http.Handler {
	api := &adminAPI{device: device, store: store}

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/state", api.getState)
		r.Get("/settings", api.listSettings)
		r.Put("/settings/{key}", api.putSetting)
		r.Post("/stop", api.stop)
	})

	r.Route("/ws", func(r chi.Router) {
		r.Get("/echo", EchoHandler)
		r.Get("/state", api.stateStream)
	})

	r.Get("/", servePage)
	r.Get("/Default.html", servePage)

	return r
}

func servePage(w http.ResponseWriter, r *http.Request) {
	page := comms.StaticPage()
	w.Header().Set("Content-Type", page.ContentType)
	w.Write(page.Body)
}

func (a *adminAPI) settingValues() map[string]int {
	stored, err := a.store.All()
	if err != nil {
		logger.Printf("unable to read settings: %v", err)
		return nil
	}
	values := make(map[string]int, len(stored))
	for _, s := range stored {
		values[s.Key] = s.Value
	}
	return values
}

func (a *adminAPI) getState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, comms.NewStatePayload(a.device.State(), a.settingValues()))
}

func (a *adminAPI) listSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := a.store.All()
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	if stored == nil {
		stored = []settings.Setting{}
	}
	render.JSON(w, r, stored)
}

func (a *adminAPI) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !a.store.Known(key) {
		render.Render(w, r, ErrNotFound)
		return
	}

	data := &SettingPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if *data.Value < 0 {
		render.Render(w, r, ErrInvalidRequest(errors.New("value cannot be negative")))
		return
	}

	if err := a.store.Set(key, *data.Value); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, comms.NewStatePayload(a.device.State(), a.settingValues()))
}

func (a *adminAPI) stop(w http.ResponseWriter, r *http.Request) {
	if err := a.device.Stop(); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, comms.NewStatePayload(a.device.State(), a.settingValues()))
}
