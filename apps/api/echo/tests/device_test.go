package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/attendance/core/device"
	"github.com/trezcool/attendance/core/user"
	"github.com/trezcool/attendance/tests"
)

func Test_deviceApi_crud(t *testing.T) {
	app := setup(t)

	adminToken := getToken(t, testutil.CreateUser(t, usrRepo, "Admin", "admin@astu.edu", pwd, user.RoleAdmin, true))
	teacherToken := getToken(t, testutil.CreateUser(t, usrRepo, "Teacher", "teacher@astu.edu", pwd, user.RoleTeacher, true))
	gate := testutil.CreateDevice(t, devRepo, "Gate Camera", "key-gate", device.StatusOnline)

	runTests(t, app, []httpTest{
		{name: "admin only", path: "/api/devices", token: teacherToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "invalid", method: http.MethodPost, path: "/api/devices", token: adminToken, wantCode: http.StatusBadRequest,
			body: marchallObj(t, device.NewDevice{Name: "Lab", Type: "drone", IP: "999.1.1.1"}),
			wantData: marchallObj(t, map[string]string{
				"type": "type must be one of camera, access_control or sensor",
				"ip":   "ip must be a valid IP address",
			}),
		},
		{
			name: "name taken", method: http.MethodPost, path: "/api/devices", token: adminToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, device.NewDevice{Name: "Gate Camera"}),
			wantData: marchallObj(t, map[string]string{"name": device.ErrNameExists.Error()}),
		},
	})

	var lab device.WithKey
	t.Run("create", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/devices", adminToken, marchallObj(t, device.NewDevice{
			Name: "Lab Camera", Location: "Building 3", IP: "192.168.1.120",
		}))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		unmarshal(t, rec, &lab)
		assert.NotEmpty(t, lab.APIKey)
		assert.Equal(t, device.TypeCamera, lab.Type)
		assert.Equal(t, device.StatusOffline, lab.Status)

		// the key is never listed again
		req, rec = newAuthRequest(http.MethodGet, "/api/devices/"+lab.ID, adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), lab.APIKey)
	})

	t.Run("rotate key", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/devices/"+lab.ID+"/rotate-key", adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var rotated device.WithKey
		unmarshal(t, rec, &rotated)
		assert.NotEmpty(t, rotated.APIKey)
		assert.NotEqual(t, lab.APIKey, rotated.APIKey)

		_, err := devRepo.GetDeviceByAPIKey(context.Background(), lab.APIKey)
		assert.Error(t, err, "the old key stops working")
	})

	t.Run("update", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/api/devices/"+lab.ID, adminToken, marchallObj(t, device.NewDevice{
			Name: "Lab Sensor", Type: device.TypeSensor, Location: "Building 4",
		}))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var dev device.Device
		unmarshal(t, rec, &dev)
		assert.Equal(t, "Lab Sensor", dev.Name)
		assert.Equal(t, device.TypeSensor, dev.Type)
		assert.Empty(t, dev.IP)
	})

	t.Run("query", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/devices?status=online", adminToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var devices []device.Device
		unmarshal(t, rec, &devices)
		require.Len(t, devices, 1)
		assert.Equal(t, gate.ID, devices[0].ID)

		req, rec = newAuthRequest(http.MethodGet, "/api/devices?search=building", adminToken)
		app.ServeHTTP(rec, req)
		unmarshal(t, rec, &devices)
		require.Len(t, devices, 1)
		assert.Equal(t, lab.ID, devices[0].ID)
	})

	runTests(t, app, []httpTest{
		{name: "delete", method: http.MethodDelete, path: "/api/devices/" + lab.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/api/devices/" + lab.ID, token: adminToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "device not found"})},
	})
}

func Test_deviceApi_operations(t *testing.T) {
	app := setup(t)

	token := getToken(t, testutil.CreateUser(t, usrRepo, "Admin", "admin@astu.edu", pwd, user.RoleAdmin, true))
	gate := testutil.CreateDevice(t, devRepo, "Gate Camera", "key-gate", device.StatusOnline)
	lab := testutil.CreateDevice(t, devRepo, "Lab Camera", "key-lab", device.StatusOffline)

	_, err := devRepo.RecordHeartbeat(context.Background(), gate.ID, device.Telemetry{UptimeSeconds: 2 * 3600, CapturesToday: 12}, time.Now().UTC())
	require.NoError(t, err)

	runTests(t, app, []httpTest{
		{
			name: "summary", path: "/api/devices/summary", token: token,
			wantData: marchallObj(t, device.Summary{Total: 2, Online: 1, Offline: 1, CapturesToday: 12, AvgUptime: "1h 0m"}),
		},
		{
			name: "restart offline", method: http.MethodPost, path: "/api/devices/" + lab.ID + "/restart", token: token,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: device.ErrDeviceOffline.Error()}),
		},
	})

	t.Run("restart", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/api/devices/"+gate.ID+"/restart", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		var dev device.Device
		unmarshal(t, rec, &dev)
		assert.Equal(t, device.CommandRestart, dev.PendingCommand.String)
	})

	t.Run("metrics", func(t *testing.T) {
		now := time.Now().UTC()
		for i, ago := range []time.Duration{3 * time.Hour, 30 * time.Minute, 10 * time.Minute} {
			require.NoError(t, devRepo.AddMetricSample(context.Background(), device.MetricSample{
				DeviceID: gate.ID, CPUUsage: float64(10 * (i + 1)), MemoryUsage: 40, Temperature: 50, RecordedAt: now.Add(-ago),
			}))
		}

		var samples []device.MetricSample
		req, rec := newAuthRequest(http.MethodGet, "/api/devices/"+gate.ID+"/metrics", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshal(t, rec, &samples)
		require.Len(t, samples, 2, "last hour by default")
		assert.Equal(t, 20.0, samples[0].CPUUsage, "oldest first")

		since := url.QueryEscape(now.Add(-4 * time.Hour).Format(time.RFC3339))
		req, rec = newAuthRequest(http.MethodGet, "/api/devices/"+gate.ID+"/metrics?since="+since, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		unmarshal(t, rec, &samples)
		assert.Len(t, samples, 3)

		req, rec = newAuthRequest(http.MethodGet, "/api/devices/"+gate.ID+"/metrics?since=yesterday", token)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("settings", func(t *testing.T) {
		runTests(t, app, []httpTest{
			{name: "defaults", path: "/api/devices/settings", token: token, wantData: marchallObj(t, device.DefaultSettings())},
		})

		s := device.DefaultSettings()
		s.ImageQuality = "ultra"
		s.Timeout = 0
		runTests(t, app, []httpTest{
			{
				name: "invalid", method: http.MethodPut, path: "/api/devices/settings", token: token, body: marchallObj(t, s),
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{
					"image_quality": "image quality must be one of low, medium or high",
					"timeout":       "timeout must be 1 or greater",
				}),
			},
		})

		s = device.DefaultSettings()
		s.CaptureInterval = 10
		s.NightMode = true
		runTests(t, app, []httpTest{
			{name: "save", method: http.MethodPut, path: "/api/devices/settings", token: token, body: marchallObj(t, s), wantData: marchallObj(t, s)},
			{name: "saved", path: "/api/devices/settings", token: token, wantData: marchallObj(t, s)},
		})
	})
}
