package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CodedInternet/iotcar/comms"
	"github.com/CodedInternet/iotcar/onboard"
	"github.com/CodedInternet/iotcar/settings"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

type testRig struct {
	car    *onboard.Car
	router http.Handler
	close  func()
}

func newTestRig(t *testing.T) *testRig {
	db, err := openDb(filepath.Join(t.TempDir(), "tmp", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	car, _, err := onboard.NewCarSimulator(onboard.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	store, err := newSettings(db, car)
	if err != nil {
		t.Fatal(err)
	}
	return &testRig{
		car:    car,
		router: newRouter(car, store),
		close: func() {
			car.Close()
			db.Close()
		},
	}
}

func (rig *testRig) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Add("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	rig.router.ServeHTTP(rr, req)
	return rr
}

func TestAdminAPI(t *testing.T) {
	Convey("Given the admin API over a simulated car", t, func() {
		rig := newTestRig(t)
		defer rig.close()

		Convey("State reports the initialised car", func() {
			rr := rig.do("GET", "/api/state", "")
			So(rr.Code, ShouldEqual, http.StatusOK)

			var payload comms.StatePayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.Initialised, ShouldBeTrue)
			So(payload.SteeringMode, ShouldEqual, "pulse")
		})

		Convey("Settings start empty", func() {
			rr := rig.do("GET", "/api/settings", "")
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(rr.Body.String()), ShouldEqual, "[]")
		})

		Convey("Setting the motor speed drives the motor", func() {
			rr := rig.do("PUT", "/api/settings/motorSpeed", `{"value": 60}`)
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rig.car.State().MotorDuty, ShouldAlmostEqual, 0.6)

			var payload comms.StatePayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.Settings[settings.MotorSpeed], ShouldEqual, 60)
		})

		Convey("Unknown settings are not found", func() {
			rr := rig.do("PUT", "/api/settings/turbo", `{"value": 1}`)
			So(rr.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("A setting without a value is rejected", func() {
			rr := rig.do("PUT", "/api/settings/motorSpeed", `{}`)
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
			So(rr.Body.String(), ShouldContainSubstring, "value is required")
		})

		Convey("Stop halts the motor", func() {
			So(rig.car.SetMotorSpeed(0.5), ShouldBeNil)
			rr := rig.do("POST", "/api/stop", "")
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rig.car.State().MotorRunning, ShouldBeFalse)
		})

		Convey("The control page is served", func() {
			rr := rig.do("GET", "/", "")
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rr.Header().Get("Content-Type"), ShouldStartWith, "text/html")
			So(rr.Body.String(), ShouldContainSubstring, "motorSpeed")
		})
	})
}

func TestStoredSettingsReplay(t *testing.T) {
	Convey("A stored motor speed is applied to a fresh car", t, func() {
		dbFile := filepath.Join(t.TempDir(), "replay.db")

		db, err := openDb(dbFile)
		So(err, ShouldBeNil)
		first, _, err := onboard.NewCarSimulator(onboard.DefaultConfig())
		So(err, ShouldBeNil)
		store, err := newSettings(db, first)
		So(err, ShouldBeNil)
		So(store.Set(settings.MotorSpeed, 30), ShouldBeNil)
		first.Close()
		db.Close()

		db, err = openDb(dbFile)
		So(err, ShouldBeNil)
		defer db.Close()
		second, _, err := onboard.NewCarSimulator(onboard.DefaultConfig())
		So(err, ShouldBeNil)
		defer second.Close()

		_, err = newSettings(db, second)
		So(err, ShouldBeNil)
		So(second.State().MotorDuty, ShouldAlmostEqual, 0.3)
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("Loading the car config", t, func() {
		dir := t.TempDir()

		Convey("A missing file falls back to the defaults", func() {
			config, err := loadConfig(filepath.Join(dir, "missing.yaml"))
			So(err, ShouldBeNil)
			So(config, ShouldResemble, onboard.DefaultConfig())
		})

		Convey("A file overrides what it names", func() {
			file := filepath.Join(dir, "car.yaml")
			So(os.WriteFile(file, []byte("version: 1.0.0\nlistener:\n  port: 9001\n"), 0644), ShouldBeNil)
			config, err := loadConfig(file)
			So(err, ShouldBeNil)
			So(config.Listener.Port, ShouldEqual, 9001)
			So(config.Motor, ShouldResemble, onboard.DefaultConfig().Motor)
		})

		Convey("An incompatible version is refused", func() {
			file := filepath.Join(dir, "old.yaml")
			So(os.WriteFile(file, []byte("version: 0.3.0\n"), 0644), ShouldBeNil)
			_, err := loadConfig(file)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestStateStream(t *testing.T) {
	Convey("Given a websocket client on the state stream", t, func() {
		rig := newTestRig(t)
		defer rig.close()

		server := httptest.NewServer(rig.router)
		defer server.Close()
		url := "ws" + strings.TrimPrefix(server.URL, "http")

		conn, _, err := websocket.DefaultDialer.Dial(url+"/ws/state", nil)
		So(err, ShouldBeNil)
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		Convey("The current state arrives first and changes follow", func() {
			var payload comms.StatePayload
			So(conn.ReadJSON(&payload), ShouldBeNil)
			So(payload.Initialised, ShouldBeTrue)

			So(rig.car.SetMotorSpeed(0.75), ShouldBeNil)
			for payload.MotorDuty != 0.75 {
				So(conn.ReadJSON(&payload), ShouldBeNil)
			}
			So(payload.MotorRunning, ShouldBeTrue)
		})
	})

	Convey("The echo socket returns what it receives", t, func() {
		rig := newTestRig(t)
		defer rig.close()

		server := httptest.NewServer(rig.router)
		defer server.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/echo", nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		So(conn.WriteMessage(websocket.TextMessage, []byte("ping")), ShouldBeNil)
		_, msg, err := conn.ReadMessage()
		So(err, ShouldBeNil)
		So(string(msg), ShouldEqual, "ping")

		Convey("and hangs up on oversized frames", func() {
			So(conn.WriteMessage(websocket.BinaryMessage, make([]byte, maxEchoMessage+1)), ShouldBeNil)
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, _, err := conn.ReadMessage()
			So(err, ShouldNotBeNil)
		})
	})
}
