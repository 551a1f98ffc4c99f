package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/event"
	"github.com/humansinstitute/ambulando-sub000/internal/signer"
	"github.com/humansinstitute/ambulando-sub000/internal/teleport"
)

const descriptorQRSize = 256

// SessionFactory builds a fresh signer session per login attempt.
type SessionFactory func(onAuthURL func(string)) (*signer.Session, error)

// SessionEstablisher turns a recovered credential into an authenticated
// application session. The bridge hands off exactly one of: a signed login
// event, or a raw private key plus its npub. Everything past that point
// (cookies, storage, billing) belongs to the application shell.
type SessionEstablisher interface {
	EstablishWithEvent(ctx context.Context, signed *event.Event) error
	EstablishWithKey(ctx context.Context, key domain.RecoveredKey) error
}

// Server routes the bridge's HTTP surface.
type Server struct {
	log        *logrus.Logger
	codec      *teleport.Codec
	newSession SessionFactory
	establish  SessionEstablisher

	mu      sync.Mutex
	current *signer.Session
	authURL string
}

// New builds the server. newSession may be nil when the deployment only
// receives teleport blobs; establish may be nil when no application shell
// is mounted behind the bridge.
func New(codec *teleport.Codec, newSession SessionFactory, establish SessionEstablisher, log *logrus.Logger) *Server {
	return &Server{log: log, codec: codec, newSession: newSession, establish: establish}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/teleport/decrypt", s.handleTeleportDecrypt).Methods(http.MethodPost)
	if s.newSession != nil {
		r.HandleFunc("/api/signer/descriptor", s.handleSignerDescriptor).Methods(http.MethodGet)
		r.HandleFunc("/api/signer/status", s.handleSignerStatus).Methods(http.MethodGet)
	}
	if s.establish != nil {
		r.HandleFunc("/api/login/event", s.handleLoginEvent).Methods(http.MethodPost)
		r.HandleFunc("/api/login/key", s.handleLoginKey).Methods(http.MethodPost)
	}
	return r
}

// Close tears down any in-flight signer session.
func (s *Server) Close() {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTeleportDecrypt performs the receiver side of the transfer: it opens
// the outer layer only. The inner layer goes back to the browser still
// encrypted; the unlock flow finishes it with the user's code.
func (s *Server) handleTeleportDecrypt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Blob string `json:"blob"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Blob == "" {
		writeError(w, http.StatusBadRequest, "invalid_blob")
		return
	}

	res, err := s.codec.Decode(req.Blob)
	if err != nil {
		status, kind := teleportErrorStatus(err)
		writeError(w, status, kind)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSignerDescriptor starts a fresh remote-signer handshake and returns
// the descriptor URI plus its QR code. Any previous attempt is torn down.
func (s *Server) handleSignerDescriptor(w http.ResponseWriter, r *http.Request) {
	sess, err := s.newSession(s.setAuthURL)
	if err != nil {
		s.log.Errorf("signer session: %v", err)
		writeError(w, http.StatusInternalServerError, "session_failed")
		return
	}

	s.mu.Lock()
	prev := s.current
	s.current = sess
	s.authURL = ""
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	go func() {
		if err := sess.Connect(context.Background()); err != nil {
			s.log.Infof("signer handshake ended: %v", err)
		}
	}()

	png, err := sess.DescriptorQR(descriptorQRSize)
	if err != nil {
		s.log.Errorf("descriptor qr: %v", err)
		writeError(w, http.StatusInternalServerError, "session_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"descriptor": sess.Descriptor(),
		"qr_png":     base64.StdEncoding.EncodeToString(png),
	})
}

func (s *Server) handleSignerStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	cur := s.current
	authURL := s.authURL
	s.mu.Unlock()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no_session")
		return
	}
	out := map[string]string{"state": cur.State().String()}
	if authURL != "" {
		out["auth_url"] = authURL
	}
	if cur.State() == signer.StateConnected {
		out["remote_pub"] = cur.RemotePub()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLoginEvent completes a remote-signer login: the browser posts the
// signed login event and the application shell takes over.
func (s *Server) handleLoginEvent(w http.ResponseWriter, r *http.Request) {
	var signed event.Event
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_event")
		return
	}
	if err := signed.Verify(); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}
	if err := s.establish.EstablishWithEvent(r.Context(), &signed); err != nil {
		s.log.Errorf("login handoff: %v", err)
		writeError(w, http.StatusInternalServerError, "session_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "npub": signed.PubKey})
}

// handleLoginKey completes a teleport login: the browser finished the
// unlock flow and posts the recovered key.
func (s *Server) handleLoginKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nsec string `json:"nsec"`
		Npub string `json:"npub"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nsec == "" {
		writeError(w, http.StatusBadRequest, "invalid_key")
		return
	}
	sec, err := crypto.DecodeNsec(req.Nsec)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_key")
		return
	}
	pub, err := crypto.DerivePublicKey(sec)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_key")
		return
	}
	npub, err := crypto.EncodeNpub(pub)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_key")
		return
	}
	if req.Npub != "" && req.Npub != npub {
		writeError(w, http.StatusUnprocessableEntity, "key_mismatch")
		return
	}
	if err := s.establish.EstablishWithKey(r.Context(), domain.RecoveredKey{Secret: sec, Npub: npub}); err != nil {
		s.log.Errorf("login handoff: %v", err)
		writeError(w, http.StatusInternalServerError, "session_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "npub": npub})
}

func (s *Server) setAuthURL(u string) {
	s.mu.Lock()
	s.authURL = u
	s.mu.Unlock()
}

// teleportErrorStatus maps each taxonomy error to a distinguishable status
// and kind string. Unexpected errors normalize to invalid_blob rather than
// leaking internals.
func teleportErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidBlob):
		return http.StatusBadRequest, "invalid_blob"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, domain.ErrWrongRecipient):
		return http.StatusForbidden, "wrong_recipient"
	case errors.Is(err, domain.ErrExpiredBlob):
		return http.StatusGone, "expired_blob"
	case errors.Is(err, domain.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity, "unsupported_version"
	case errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusUnprocessableEntity, "invalid_payload"
	default:
		return http.StatusBadRequest, "invalid_blob"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, map[string]string{"error": kind})
}
