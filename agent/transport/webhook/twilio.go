package webhook

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tanpawarit/voice-order-agent/agent/agents/orchestrator"
)

const (
	twilioVoice    = "alice"
	twilioLanguage = "es-MX"
	speechAction   = "/api/calls/twilio?turn=speech"
)

// Twilio reports these statuses once the call is over.
var finishedStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Gather  *twimlGather `xml:"Gather,omitempty"`
	Say     *twimlSay    `xml:"Say,omitempty"`
	Hangup  *struct{}    `xml:"Hangup,omitempty"`
}

type twimlGather struct {
	Input               string   `xml:"input,attr"`
	Language            string   `xml:"language,attr"`
	SpeechTimeout       string   `xml:"speechTimeout,attr"`
	Action              string   `xml:"action,attr"`
	Method              string   `xml:"method,attr"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr"`
	Say                 twimlSay `xml:"Say"`
}

type twimlSay struct {
	Voice    string `xml:"voice,attr"`
	Language string `xml:"language,attr"`
	Text     string `xml:",chardata"`
}

// PostTwilio maps Twilio voice webhooks onto call events and answers with
// TwiML. Speech turns come back through the Gather action, marked by
// turn=speech; any other live-call request is a connect.
func (h *Handler) PostTwilio(c echo.Context) error {
	callID := strings.TrimSpace(c.FormValue("CallSid"))
	if callID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "CallSid is required"})
	}
	phone := strings.TrimSpace(c.FormValue("From"))

	ev := orchestrator.Event{CallID: callID, CustomerPhone: phone}
	switch {
	case finishedStatuses[strings.ToLower(strings.TrimSpace(c.FormValue("CallStatus")))]:
		ev.Type = orchestrator.EventDisconnected
	case c.QueryParam("turn") == "speech":
		ev.Type = orchestrator.EventSpeechRecognized
		ev.Transcript = c.FormValue("SpeechResult")
	default:
		ev.Type = orchestrator.EventConnected
	}

	res, err := h.calls.Handle(c.Request().Context(), ev)
	if err != nil {
		return h.handleError(c, ev, err)
	}
	return c.XML(http.StatusOK, twimlFor(res))
}

func twimlFor(res orchestrator.Result) twimlResponse {
	say := twimlSay{Voice: twilioVoice, Language: twilioLanguage, Text: res.Message}
	switch res.Action {
	case orchestrator.ActionSpeak:
		return twimlResponse{Gather: &twimlGather{
			Input:               "speech",
			Language:            twilioLanguage,
			SpeechTimeout:       "auto",
			Action:              speechAction,
			Method:              http.MethodPost,
			ActionOnEmptyResult: true,
			Say:                 say,
		}}
	case orchestrator.ActionHangup:
		return twimlResponse{Say: &say, Hangup: &struct{}{}}
	default:
		return twimlResponse{}
	}
}
