package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"intercessio/internal/errs"
	"intercessio/internal/session"
)

func (s *Server) dispatch(req Request) Response {
	ctx := context.Background()

	switch req.Tag {
	case TagPing:
		return s.handlePing()
	case TagListSessions:
		return s.handleListSessions()
	case TagListActivity:
		return s.handleListActivity()
	case TagListApprovals:
		return s.handleListApprovals()
	case TagResolveApproval:
		return s.handleResolveApproval(req.Payload)
	case TagStopSession:
		return s.handleStopSession(req.Payload, false)
	case TagDeleteSession:
		return s.handleStopSession(req.Payload, true)
	case TagRenameSession:
		return s.handleRenameSession(req.Payload)
	case TagUpdateSessionTemplate:
		return s.handleUpdateTemplate(req.Payload)
	case TagStartBunker:
		return s.handleStartBunker(ctx, req.Payload)
	case TagStartNostrConnect:
		return s.handleStartNostrConnect(ctx, req.Payload)
	case TagShutdown:
		return s.handleShutdown()
	default:
		return errResponse("Unknown request")
	}
}

func (s *Server) handlePing() Response {
	r := ok()
	r.Pong = &PongView{
		StartedAt: s.startedAt,
		UptimeMs:  time.Now().UnixMilli() - s.startedAt,
	}
	return r
}

func (s *Server) handleListSessions() Response {
	records, err := s.deps.Sessions.List(false)
	if err != nil {
		return errResponse(err.Error())
	}
	views := make([]SessionView, len(records))
	for i, r := range records {
		views[i] = sessionToView(r)
	}
	r := ok()
	r.Sessions = views
	return r
}

func (s *Server) handleListActivity() Response {
	entries := s.deps.Log.List()
	views := make([]ActivityView, len(entries))
	for i, e := range entries {
		views[i] = activityToView(e)
	}
	r := ok()
	r.Activity = views
	return r
}

func (s *Server) handleListApprovals() Response {
	tasks, err := s.deps.Approvals.ListPending()
	if err != nil {
		return errResponse(err.Error())
	}
	views := make([]ApprovalView, len(tasks))
	for i, t := range tasks {
		views[i] = approvalToView(t)
	}
	r := ok()
	r.Approvals = views
	return r
}

func (s *Server) handleResolveApproval(payload json.RawMessage) Response {
	var p ResolveApprovalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse(fmt.Sprintf("parse error: %v", err))
	}

	var approved bool
	switch p.Decision {
	case "approve":
		approved = true
	case "reject":
		approved = false
	default:
		return errResponse(fmt.Sprintf("unknown decision %q", p.Decision))
	}

	if err := s.deps.Approvals.Resolve(p.ID, approved); err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return errResponse("Approval not found")
		}
		return errResponse(err.Error())
	}
	return ok()
}

func (s *Server) handleStopSession(payload json.RawMessage, remove bool) Response {
	var p SessionIDPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse(fmt.Sprintf("parse error: %v", err))
	}
	if err := s.deps.Sessions.Stop(p.SessionID, remove); err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return errResponse("Session not found")
		}
		return errResponse(err.Error())
	}
	return ok()
}

func (s *Server) handleRenameSession(payload json.RawMessage) Response {
	var p RenameSessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse(fmt.Sprintf("parse error: %v", err))
	}
	if err := s.deps.Sessions.Rename(p.SessionID, p.Alias); err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return errResponse("Session not found")
		}
		return errResponse(err.Error())
	}
	return ok()
}

func (s *Server) handleUpdateTemplate(payload json.RawMessage) Response {
	var p UpdateTemplatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse(fmt.Sprintf("parse error: %v", err))
	}
	if err := s.deps.Sessions.UpdateTemplate(p.SessionID, p.Template); err != nil {
		if errs.Is(err, errs.ErrUnknownPolicy) {
			return errResponse("Unknown policy template")
		}
		if errs.Is(err, errs.ErrNotFound) {
			return errResponse("Session not found")
		}
		return errResponse(err.Error())
	}
	return ok()
}

func (s *Server) handleStartBunker(ctx context.Context, payload json.RawMessage) Response {
	var p StartBunkerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse(fmt.Sprintf("parse error: %v", err))
	}

	id, uri, err := s.deps.Sessions.StartBunker(ctx, session.StartBunkerParams{
		KeyID: p.KeyID, Alias: p.Alias, Relays: p.Relays, Secret: p.Secret,
		AutoApprove: p.AutoApprove, Template: p.Template,
	})
	if err != nil {
		return errResponse(err.Error())
	}
	r := ok()
	r.SessionID = id
	r.BunkerURI = uri
	return r
}

func (s *Server) handleStartNostrConnect(ctx context.Context, payload json.RawMessage) Response {
	var p StartNostrConnectPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errResponse(fmt.Sprintf("parse error: %v", err))
	}

	id, err := s.deps.Sessions.StartNostrConnect(ctx, session.StartNostrConnectParams{
		KeyID: p.KeyID, Alias: p.Alias, Relays: p.Relays, URI: p.URI,
		AutoApprove: p.AutoApprove, Template: p.Template,
	})
	if err != nil {
		return errResponse(err.Error())
	}
	r := ok()
	r.SessionID = id
	return r
}

func (s *Server) handleShutdown() Response {
	if s.shutdownFn != nil {
		go s.shutdownFn()
	}
	return ok()
}
