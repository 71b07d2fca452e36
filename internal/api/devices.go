package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/powerlogic-core/internal/device"
	"github.com/nerrad567/powerlogic-core/internal/dispatch"
)

// handleListDevices returns all devices in registration order.
//
// Query parameters:
//   - online: "true" or "false" to filter by liveness
//   - type: filter by device type, case-insensitively
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var online *bool
	if v := q.Get("online"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		online = &b
	}
	typ := q.Get("type")

	devices := make([]device.Device, 0, s.registry.GetDeviceCount())
	for _, d := range s.registry.Snapshot() {
		if online != nil && d.IsOnline != *online {
			continue
		}
		if typ != "" && !strings.EqualFold(d.Type, typ) {
			continue
		}
		devices = append(devices, d)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns registry counts.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.CreateDevice(r.Context(), &dev); err != nil {
		s.writeRegistryError(w, err, "failed to create device")
		return
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice replaces a device's configuration. The body's name may
// differ from the path only in letter case.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var dev device.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if dev.Name == "" {
		dev.Name = name
	}
	if device.NameKey(dev.Name) != device.NameKey(name) {
		writeBadRequest(w, "device name cannot be changed")
		return
	}

	if err := s.registry.UpdateDevice(r.Context(), &dev); err != nil {
		s.writeRegistryError(w, err, "failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteDevice(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeRegistryError(w, err, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceCommand switches a whole device on or off.
//
// The action path segment accepts "on", "off", "turn_on" and "turn_off".
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	on, ok := parseSwitch(chi.URLParam(r, "action"))
	if !ok {
		writeBadRequest(w, "action must be on or off")
		return
	}
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var res dispatch.Result
	var err error
	if on {
		res, err = s.dispatcher.TurnDeviceOn(r.Context(), dev)
	} else {
		res, err = s.dispatcher.TurnDeviceOff(r.Context(), dev)
	}
	s.writeDispatchResult(w, res, err)
}

// handleOutletCommand switches one outlet of a power strip.
func (s *Server) handleOutletCommand(w http.ResponseWriter, r *http.Request) {
	on, ok := parseSwitch(chi.URLParam(r, "action"))
	if !ok {
		writeBadRequest(w, "action must be on or off")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "outlet index must be an integer")
		return
	}
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var res dispatch.Result
	if on {
		res, err = s.dispatcher.TurnOutletOn(r.Context(), dev, index)
	} else {
		res, err = s.dispatcher.TurnOutletOff(r.Context(), dev, index)
	}
	s.writeDispatchResult(w, res, err)
}

func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	dev, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

func (s *Server) writeDispatchResult(w http.ResponseWriter, res dispatch.Result, err error) {
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidArgument) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("manual command failed", "device", res.Device, "error", err)
		writeInternalError(w, "command failed")
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}

// parseSwitch maps an action path segment to on (true) or off (false).
func parseSwitch(s string) (bool, bool) {
	if key, err := device.ParseCommandKey(s); err == nil {
		return key == device.CommandOn, true
	}
	if action, err := device.ParseAction(s); err == nil {
		return action == device.ActionTurnOn, true
	}
	return false, false
}

// isValidationError checks if an error is a device validation error.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidAction) ||
		errors.Is(err, device.ErrInvalidCommandKey) ||
		errors.Is(err, device.ErrInvalidDependency) ||
		errors.Is(err, device.ErrInvalidOutlet)
}
