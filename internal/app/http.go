package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"vaultnotes/client/internal/access"
	"vaultnotes/client/internal/auth"
	"vaultnotes/client/internal/docstore"
	"vaultnotes/client/internal/engine"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Session routes before the bearer check: the UI needs them to establish
	// the session in the first place.
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/initialize" {
		state := s.service.StartInitialization(r.Context())
		payload := sessionPayload(state)
		if token, err := s.service.Token(r.Context()); err == nil {
			payload["token"] = token
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, sessionPayload(s.service.Session(r.Context())))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/passcode" {
		var body struct {
			Passcode string `json:"passcode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Passcode == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "passcode is required", nil)
			return
		}
		if err := s.service.SupplyPasscode(body.Passcode); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	identity, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session" {
		if err := s.service.Teardown(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/user" {
		var body struct {
			Passcode      string `json:"passcode"`
			NeedsRotation bool   `json:"needsRotation"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.CreateUser(r.Context(), body.Passcode, body.NeedsRotation)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, initResultPayload(result))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/device" {
		var body struct {
			Passcode string `json:"passcode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.CreateDevice(r.Context(), body.Passcode); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/passcode/change" {
		var body struct {
			CurrentPasscode string `json:"currentPasscode"`
			NewPasscode     string `json:"newPasscode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.NewPasscode == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "newPasscode is required", nil)
			return
		}
		if err := s.service.ChangePasscode(r.Context(), body.CurrentPasscode, body.NewPasscode); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/device/deauthorize" {
		result, err := s.service.DeauthorizeDevice(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transformKeyDeleted": result.TransformKeyDeleted})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/events" {
		writeJSON(w, http.StatusOK, map[string]any{"events": s.service.Events()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		entries, err := s.service.Coordinator().List(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			item := metaPayload(entry.DocumentMeta)
			item["storage"] = entry.Mode
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		var body struct {
			ID      string         `json:"id"`
			Name    string         `json:"name"`
			Content access.Content `json:"content"`
			Users   []string       `json:"users"`
			Groups  []string       `json:"groups"`
			Storage string         `json:"storage"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Content.Type == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
			return
		}
		doc, err := s.service.Coordinator().Create(r.Context(), body.Content, access.CreateOptions{
			ID:     body.ID,
			Name:   body.Name,
			Users:  body.Users,
			Groups: body.Groups,
			Mode:   access.StorageMode(body.Storage),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, documentPayload(doc))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/groups" {
		metas, err := s.service.Coordinator().ListGroups(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(metas))
		for _, meta := range metas {
			items = append(items, groupMetaPayload(meta))
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/groups" {
		var body struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AddAsMember bool   `json:"addAsMember"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.Coordinator().CreateGroup(r.Context(), engine.GroupCreateOptions{
			GroupID:     body.ID,
			GroupName:   body.Name,
			AddAsMember: body.AddAsMember,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, groupDetailPayload(detail))
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, identity, parts[2], parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "groups" {
		s.handleGroup(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, identity engine.UserIdentity, documentID string, parts []string) {
	coord := s.service.Coordinator()

	if len(parts) == 3 && r.Method == http.MethodGet {
		doc, err := coord.Read(r.Context(), documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, documentPayload(doc))
		return
	}

	if len(parts) == 4 && parts[3] == "items" && r.Method == http.MethodPost {
		var body struct {
			Item string `json:"item"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Item == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "item is required", nil)
			return
		}
		doc, err := coord.AddListItem(r.Context(), documentID, body.Item)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, documentPayload(doc))
		return
	}

	if len(parts) == 4 && parts[3] == "name" && r.Method == http.MethodPatch {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		meta, err := coord.Rename(r.Context(), documentID, body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, metaPayload(meta))
		return
	}

	if len(parts) == 4 && parts[3] == "grant" && r.Method == http.MethodPost {
		var body struct {
			Users  []string `json:"users"`
			Groups []string `json:"groups"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := coord.Grant(r.Context(), documentID, body.Users, body.Groups)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, shareResultPayload(result))
		return
	}

	if len(parts) == 4 && parts[3] == "revoke" && r.Method == http.MethodPost {
		var body struct {
			Users  []string `json:"users"`
			Groups []string `json:"groups"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		// Self removal never travels through the generic revoke path.
		for _, user := range body.Users {
			if user == identity.ID {
				writeError(w, http.StatusUnprocessableEntity, "SELF_REVOKE", "Cannot revoke own access, leave the document instead", nil)
				return
			}
		}
		result, err := coord.Revoke(r.Context(), documentID, body.Users, body.Groups)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, shareResultPayload(result))
		return
	}

	if len(parts) == 4 && parts[3] == "leave" && r.Method == http.MethodPost {
		if err := coord.Leave(r.Context(), documentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGroup(w http.ResponseWriter, r *http.Request, groupID string, parts []string) {
	coord := s.service.Coordinator()

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			detail, err := coord.GetGroup(r.Context(), groupID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, groupDetailPayload(detail))
			return
		case http.MethodPatch:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			meta, err := coord.UpdateGroup(r.Context(), groupID, body.Name)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, groupMetaPayload(meta))
			return
		case http.MethodDelete:
			if err := coord.DeleteGroup(r.Context(), groupID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "leave" && r.Method == http.MethodPost {
		if err := coord.LeaveGroup(r.Context(), groupID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "rotate" && r.Method == http.MethodPost {
		if err := coord.RotateGroupKey(r.Context(), groupID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 5 && r.Method == http.MethodPost {
		var body struct {
			Users []string `json:"users"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}

		var (
			result engine.AccessResult
			err    error
		)
		switch parts[3] + "/" + parts[4] {
		case "members/add":
			result, err = coord.AddMembers(r.Context(), groupID, body.Users)
		case "members/remove":
			result, err = coord.RemoveMembers(r.Context(), groupID, body.Users)
		case "admins/add":
			result, err = coord.AddAdmins(r.Context(), groupID, body.Users)
		case "admins/remove":
			result, err = coord.RemoveAdmins(r.Context(), groupID, body.Users)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (engine.UserIdentity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return engine.UserIdentity{}, false
	}
	identity, err := s.service.Identity(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return engine.UserIdentity{}, false
	}
	return identity, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func sessionPayload(state SessionState) map[string]any {
	payload := map[string]any{
		"state":                 state.State,
		"previouslyEstablished": state.PreviouslyEstablished,
	}
	if state.UserID != "" {
		payload["userId"] = state.UserID
		payload["status"] = state.Status
		payload["needsRotation"] = state.NeedsRotation
	}
	if state.PendingPasscode != "" {
		payload["pendingPasscode"] = state.PendingPasscode
	}
	if state.FailureReason != "" {
		payload["failureReason"] = state.FailureReason
	}
	return payload
}

func initResultPayload(result engine.InitResult) map[string]any {
	return map[string]any{
		"userId":        result.UserID,
		"status":        result.Status,
		"needsRotation": result.NeedsRotation,
	}
}

func metaPayload(meta engine.DocumentMeta) map[string]any {
	payload := map[string]any{
		"documentId":  meta.DocumentID,
		"created":     meta.Created,
		"updated":     meta.Updated,
		"association": meta.Association,
		"visibleTo":   meta.VisibleTo,
	}
	if meta.DocumentName != "" {
		payload["documentName"] = meta.DocumentName
	}
	return payload
}

func documentPayload(doc access.Document) map[string]any {
	return map[string]any{
		"id":      doc.ID,
		"storage": doc.Mode,
		"meta":    metaPayload(doc.Meta),
		"content": doc.Content,
	}
}

func shareResultPayload(result access.ShareResult) map[string]any {
	payload := map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}
	if result.VisibleTo != nil {
		payload["visibleTo"] = result.VisibleTo
	}
	return payload
}

func groupMetaPayload(meta engine.GroupMeta) map[string]any {
	payload := map[string]any{
		"groupId":  meta.GroupID,
		"isAdmin":  meta.IsAdmin,
		"isMember": meta.IsMember,
	}
	if meta.GroupName != "" {
		payload["groupName"] = meta.GroupName
	}
	return payload
}

func groupDetailPayload(detail engine.GroupDetail) map[string]any {
	payload := groupMetaPayload(detail.GroupMeta)
	payload["groupAdmins"] = detail.GroupAdmins
	payload["groupMembers"] = detail.GroupMembers
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, access.ErrSelfRevoke) {
		return http.StatusUnprocessableEntity, "SELF_REVOKE", "Cannot revoke own access, leave the document instead", nil
	}
	if errors.Is(err, access.ErrNotAList) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Document content is not a list", nil
	}
	if errors.Is(err, access.ErrDocumentNotFound) || errors.Is(err, docstore.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		switch engineErr.Code {
		case engine.CodeIncorrectPasscode:
			return http.StatusForbidden, engine.CodeIncorrectPasscode, "Passcode is incorrect", nil
		case engine.CodeCredentialRejected:
			return http.StatusUnauthorized, engine.CodeCredentialRejected, "Credential rejected", nil
		case engine.CodeUserNotFound, engine.CodeDocumentNotFound, engine.CodeGroupNotFound:
			return http.StatusNotFound, engineErr.Code, engineErr.Message, nil
		case engine.CodeNotGroupAdmin:
			return http.StatusForbidden, engine.CodeNotGroupAdmin, engineErr.Message, nil
		case engine.CodeNetwork:
			return http.StatusBadGateway, engine.CodeNetwork, "Hosted backend unreachable", nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
