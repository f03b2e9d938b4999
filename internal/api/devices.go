package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-vcp/internal/groups"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// deviceView is a device snapshot annotated with its group and policy.
type deviceView struct {
	vcp.DeviceSnapshot
	Group  *int32        `json:"group,omitempty"`
	Policy groups.Policy `json:"policy"`
}

type setVolumeRequest struct {
	Volume *int `json:"volume"`
}

// setOffsetRequest updates any subset of an external output's fields.
type setOffsetRequest struct {
	Value       *int32  `json:"value"`
	Location    *uint32 `json:"location"`
	Description *string `json:"description"`
}

type setPolicyRequest struct {
	Policy string `json:"policy"`
}

func (s *Server) view(d vcp.DeviceSnapshot) deviceView {
	v := deviceView{DeviceSnapshot: d, Policy: s.groups.Policy(d.Address)}
	if g, ok := s.groups.GroupOf(d.Address); ok {
		v.Group = &g
	}
	return v
}

// handleListDevices returns every device the service tracks.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.svc.Snapshot()
	out := make([]deviceView, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		out = append(out, s.view(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":  out,
		"count":    len(out),
		"capacity": snap.Capacity,
	})
}

// handleGetDevice returns one device. An untracked address is reported as
// disconnected rather than 404, matching GetConnectionState.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	d, ok := s.svc.Device(device)
	if !ok {
		d = vcp.DeviceSnapshot{Address: device, State: s.svc.GetConnectionState(device)}
	}
	writeJSON(w, http.StatusOK, s.view(d))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.svc.Connect(device) {
		writeConflict(w, "connect refused")
		return
	}
	writeAccepted(w, device)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.svc.Disconnect(device) {
		writeConflict(w, "device is not tracked or already disconnected")
		return
	}
	writeAccepted(w, device)
}

func (s *Server) handleMuteDevice(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.svc.Mute(device)
	writeAccepted(w, device)
}

func (s *Server) handleUnmuteDevice(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.svc.Unmute(device)
	writeAccepted(w, device)
}

func (s *Server) handleSetDeviceVolume(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req setVolumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Volume == nil || *req.Volume < 0 || *req.Volume > vcp.MaxVolume {
		writeValidationError(w, "volume must be between 0 and 255")
		return
	}
	s.svc.SetDeviceVolume(device, *req.Volume)
	writeAccepted(w, device)
}

// handleSetOffset forwards each field present in the body. The stack
// confirms changes asynchronously through offset.changed events.
func (s *Server) handleSetOffset(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	id, err := outputParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req setOffsetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Value == nil && req.Location == nil && req.Description == nil {
		writeValidationError(w, "one of value, location or description is required")
		return
	}
	if !s.svc.IsOffsetAvailable(device) {
		writeNotFound(w, "device has no external outputs")
		return
	}

	if req.Value != nil {
		s.svc.SetOffset(device, id, *req.Value)
	}
	if req.Location != nil {
		s.svc.SetOffsetLocation(device, id, *req.Location)
	}
	if req.Description != nil {
		s.svc.SetOffsetDescription(device, id, *req.Description)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device": device,
		"output": id,
	})
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req setPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	policy, err := groups.ParsePolicy(req.Policy)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := s.groups.SetPolicy(r.Context(), device, policy); err != nil {
		if errors.Is(err, groups.ErrInvalidPolicy) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("setting connection policy", "device", device.String(), "error", err)
		writeInternalError(w, "failed to set policy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device": device,
		"policy": policy,
	})
}

// writeAccepted acknowledges a command queued on the service. Results
// arrive as WebSocket events.
func writeAccepted(w http.ResponseWriter, device vcp.DeviceAddress) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device":   device,
		"accepted": true,
	})
}
