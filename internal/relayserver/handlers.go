package relayserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dual-chat/internal/relaytoken"
)

type ctxIDKey struct{}

type registerRequest struct {
	StableID string `json:"stableId"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	StableID string `json:"stableId"`
}

type messageRecord struct {
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type healthPayload struct {
	Status    string `json:"status"`
	DBEnabled bool   `json:"dbEnabled"`
	Message   string `json:"message"`
}

func (s *Server) databaseUnavailable(w http.ResponseWriter) {
	http.Error(w, "database unavailable: set DATABASE_URL to enable accounts and history", http.StatusServiceUnavailable)
}

func (s *Server) writeHealthJSON(w http.ResponseWriter, status int, dbEnabled bool, msg string) {
	state := "ok"
	if status >= 400 {
		state = "error"
	}
	payload := healthPayload{Status: state, DBEnabled: dbEnabled, Message: msg}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("health marshal error: %v", err)
		s.databaseUnavailable(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Printf("health write error: %v", err)
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HealthChecks.Add(1)
		if s.DB == nil {
			// Routing still works without a DB, so this is healthy,
			// just stateless.
			s.writeHealthJSON(w, http.StatusOK, false, "stateless mode")
			return
		}
		if err := s.DB.PingContext(r.Context()); err != nil {
			log.Printf("health ping failed: %v", err)
			s.writeHealthJSON(w, http.StatusServiceUnavailable, false, err.Error())
			return
		}
		s.writeHealthJSON(w, http.StatusOK, true, "ok")
	}
}

func (s *Server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RegisterAttempts.Add(1)
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		req.StableID = strings.TrimSpace(req.StableID)
		if req.StableID == "" || req.Password == "" {
			http.Error(w, "stableId/password required", http.StatusBadRequest)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash error", http.StatusInternalServerError)
			return
		}
		_, err = s.DB.Exec(`INSERT INTO relay_accounts (stable_id, password_hash) VALUES ($1, $2)`, req.StableID, string(hash))
		if err != nil {
			http.Error(w, "stable id exists", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.LoginAttempts.Add(1)
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		var storedHash string
		if err := s.DB.QueryRow(`SELECT password_hash FROM relay_accounts WHERE stable_id=$1`, req.StableID).Scan(&storedHash); err != nil {
			http.Error(w, "invalid stable id", http.StatusBadRequest)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.Password)); err != nil {
			http.Error(w, "wrong password", http.StatusBadRequest)
			return
		}
		token, err := relaytoken.Issue(req.StableID)
		if err != nil {
			http.Error(w, "token error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{Token: token, StableID: req.StableID})
	}
}

func (s *Server) peersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		online := s.hub.Online()
		if online == nil {
			online = []string{}
		}
		_ = json.NewEncoder(w).Encode(online)
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DB == nil {
			s.databaseUnavailable(w)
			return
		}
		stableID := r.Context().Value(ctxIDKey{}).(string)
		rows, err := s.DB.Query(`
            SELECT sender_id, receiver_id, content, COALESCE(created_at, NOW())
            FROM relay_messages
            WHERE receiver_id=$1 OR sender_id=$1
            ORDER BY id DESC
            LIMIT 200
        `, stableID)
		if err != nil {
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		defer rows.Close()
		var records []messageRecord
		for rows.Next() {
			var rec messageRecord
			if err := rows.Scan(&rec.SenderID, &rec.ReceiverID, &rec.Message, &rec.Timestamp); err != nil {
				http.Error(w, "scan failed", http.StatusInternalServerError)
				return
			}
			records = append(records, rec)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records)
	}
}

func (s *Server) authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := parseTokenFromHeader(r.Header.Get("Authorization"))
			stableID, err := relaytoken.Validate(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := contextWithID(r.Context(), stableID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseTokenFromHeader(h string) string {
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
