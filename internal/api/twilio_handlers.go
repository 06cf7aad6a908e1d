package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PizzaPipe/internal/catalog"
	"github.com/BTreeMap/PizzaPipe/internal/intent"
	"github.com/BTreeMap/PizzaPipe/internal/messaging"
	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// MenuStep is the order step whose prompt lists the menu.
const MenuStep catalog.StepID = "MENU"

// twilioForm is the subset of a Twilio messaging webhook used here.
type twilioForm struct {
	Phone     string
	Body      string
	MessageID string
}

func parseTwilioForm(r *http.Request) (twilioForm, error) {
	if err := r.ParseForm(); err != nil {
		return twilioForm{}, fmt.Errorf("failed to parse form: %w", err)
	}
	form := twilioForm{
		Body:      r.FormValue("Body"),
		MessageID: r.FormValue("MessageSid"),
	}
	if form.Body == "" {
		return twilioForm{}, models.ErrEmptyBody
	}
	phone, err := models.CanonicalPhone(r.FormValue("From"))
	if err != nil {
		return twilioForm{}, err
	}
	form.Phone = phone
	return form, nil
}

// twilioSandboxHandler handles POST /twilioSandbox: the message goes through
// the sign-up gate and the engine, and the reply is returned as TwiML.
func (s *Server) twilioSandboxHandler(w http.ResponseWriter, r *http.Request) {
	form, err := parseTwilioForm(r)
	if err != nil {
		slog.Warn("Server.twilioSandboxHandler: invalid webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	if s.dedup != nil && form.MessageID != "" {
		isNew, err := s.dedup.RecordInbound(form.MessageID, form.Phone)
		if err != nil {
			slog.Warn("Server.twilioSandboxHandler: dedup check failed, processing anyway", "error", err)
		} else if !isNew {
			slog.Info("Server.twilioSandboxHandler: duplicate webhook ignored", "message_id", form.MessageID)
			writeTwiML(w, "", "")
			return
		}
	}

	messaging.RecordMessage(ctx, s.st, form.Phone, models.RoleUser, form.Body)
	reply, err := s.manager.HandleMessage(ctx, form.Phone, form.Body)
	if err != nil {
		slog.Error("Server.twilioSandboxHandler: failed to handle message", "phone", form.Phone, "error", err)
	}
	messaging.RecordMessage(ctx, s.st, form.Phone, models.RoleAssistant, reply)

	if s.dedup != nil && form.MessageID != "" {
		if err := s.dedup.MarkProcessed(form.MessageID); err != nil {
			slog.Warn("Server.twilioSandboxHandler: failed to mark processed", "message_id", form.MessageID, "error", err)
		}
	}
	media := s.replyMedia(ctx, form.Phone)
	slog.Info("Server.twilioSandboxHandler: replied", "phone", form.Phone, "reply_length", len(reply), "media", media != "")
	writeTwiML(w, reply, media)
}

// twilioSandboxGPTHandler handles POST /twilioSandboxGPT: every message is
// answered by the assistant, without the sign-up gate.
func (s *Server) twilioSandboxGPTHandler(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Assistant not configured"))
		return
	}
	form, err := parseTwilioForm(r)
	if err != nil {
		slog.Warn("Server.twilioSandboxGPTHandler: invalid webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	messaging.RecordMessage(ctx, s.st, form.Phone, models.RoleUser, form.Body)
	reply, err := s.assistant.Reply(ctx, form.Phone, form.Body)
	if err != nil {
		slog.Error("Server.twilioSandboxGPTHandler: assistant failed", "phone", form.Phone, "error", err)
		reply = intent.InternalErrorReply
	}
	messaging.RecordMessage(ctx, s.st, form.Phone, models.RoleAssistant, reply)
	writeTwiML(w, reply, "")
}

// replyMedia returns the menu image when the reply just sent is the menu prompt.
func (s *Server) replyMedia(ctx context.Context, phone string) string {
	if s.menuImageURL == "" {
		return ""
	}
	sess, err := s.manager.Session(ctx, phone, intent.FlowOrder)
	if err != nil || sess == nil {
		return ""
	}
	if sess.Step == MenuStep && sess.AlreadyWelcomed {
		return s.menuImageURL
	}
	return ""
}
