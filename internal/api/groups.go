package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-vcp/internal/groups"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// groupView is a stored group with the service's live volume and mute.
type groupView struct {
	ID        int32               `json:"id"`
	Name      string              `json:"name"`
	Volume    int                 `json:"volume"`
	Muted     bool                `json:"muted"`
	Members   []vcp.DeviceAddress `json:"members"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type createGroupRequest struct {
	ID      *int32   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *Server) groupView(g *groups.Group) groupView {
	members := g.Members
	if members == nil {
		members = []vcp.DeviceAddress{}
	}
	return groupView{
		ID:        g.ID,
		Name:      g.Name,
		Volume:    s.svc.GetGroupVolume(g.ID),
		Muted:     s.svc.GetGroupMute(g.ID),
		Members:   members,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	list := s.groups.ListGroups()
	out := make([]groupView, 0, len(list))
	for i := range list {
		out = append(out, s.groupView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": out,
		"count":  len(out),
	})
}

// handleCreateGroup stores a group and tells the service about each member
// so connected members pick up the group volume.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	g := &groups.Group{ID: vcp.NoGroup, Name: req.Name, Volume: vcp.UnknownVolume}
	if req.ID != nil {
		g.ID = *req.ID
	}
	for _, m := range req.Members {
		device, err := vcp.ParseDeviceAddress(m)
		if err != nil {
			writeValidationError(w, err.Error())
			return
		}
		g.Members = append(g.Members, device)
	}

	if err := s.groups.CreateGroup(r.Context(), g); err != nil {
		switch {
		case errors.Is(err, groups.ErrInvalidGroup):
			writeValidationError(w, err.Error())
		case errors.Is(err, groups.ErrGroupExists):
			writeConflict(w, err.Error())
		default:
			s.logger.Error("creating group", "name", req.Name, "error", err)
			writeInternalError(w, "failed to create group")
		}
		return
	}

	created, err := s.groups.GetGroup(g.ID)
	if err != nil {
		s.logger.Error("reading created group", "group", g.ID, "error", err)
		writeInternalError(w, "failed to read group")
		return
	}
	for _, d := range created.Members {
		s.svc.OnDeviceJoinedGroup(created.ID, d)
	}
	writeJSON(w, http.StatusCreated, s.groupView(created))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	g, err := s.groups.GetGroup(id)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.groupView(g))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.groups.DeleteGroup(r.Context(), id); err != nil {
		if !errors.Is(err, groups.ErrGroupNotFound) {
			s.logger.Error("deleting group", "group", id, "error", err)
		}
		writeGroupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetGroupVolume returns the cached group volume. volume is -1 until
// the group has been set or reported.
func (s *Server) handleGetGroupVolume(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":  id,
		"volume": s.svc.GetGroupVolume(id),
		"muted":  s.svc.GetGroupMute(id),
	})
}

func (s *Server) handleSetGroupVolume(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
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
	s.svc.SetGroupVolume(id, *req.Volume)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"group":  id,
		"volume": *req.Volume,
	})
}

func (s *Server) handleMuteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.svc.MuteGroup(id)
	writeJSON(w, http.StatusAccepted, map[string]any{"group": id, "accepted": true})
}

func (s *Server) handleUnmuteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.svc.UnmuteGroup(id)
	writeJSON(w, http.StatusAccepted, map[string]any{"group": id, "accepted": true})
}

// handleAddMember moves a device into a group. The service is only told
// when membership actually changed.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	changed, err := s.groups.AddMember(r.Context(), id, device)
	if err != nil {
		if !errors.Is(err, groups.ErrGroupNotFound) {
			s.logger.Error("adding group member", "group", id, "device", device.String(), "error", err)
		}
		writeGroupError(w, err)
		return
	}
	if changed {
		s.svc.OnDeviceJoinedGroup(id, device)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group":   id,
		"device":  device,
		"changed": changed,
	})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := groupParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	device, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.groups.RemoveMember(r.Context(), id, device); err != nil {
		if !errors.Is(err, groups.ErrMemberNotFound) {
			s.logger.Error("removing group member", "group", id, "device", device.String(), "error", err)
		}
		writeGroupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeGroupError maps store errors to HTTP responses.
func writeGroupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, groups.ErrGroupNotFound), errors.Is(err, groups.ErrMemberNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, groups.ErrInvalidGroup):
		writeValidationError(w, err.Error())
	default:
		writeInternalError(w, "group store error")
	}
}
