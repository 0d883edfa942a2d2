package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// WhatsappService delivers codes as WhatsApp template messages through the
// Cloud API. Calls carry a bounded timeout so a slow gateway cannot stall
// issuance.
type WhatsappService struct {
	appContext.DefaultService

	httpClient    *http.Client
	apiURL        string
	accessToken   string
	phoneNumberID string
	templateName  string
}

const WHATSAPP_SVC = "whatsapp_svc"

func (svc WhatsappService) Id() string {
	return WHATSAPP_SVC
}

func (svc *WhatsappService) Configure(ctx *appContext.Context) error {
	svc.httpClient = &http.Client{
		Timeout: 20 * time.Second,
	}

	svc.apiURL = os.Getenv("WHATSAPP_API_URL")
	if svc.apiURL == "" {
		svc.apiURL = "https://graph.facebook.com/v18.0"
	}

	svc.accessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	svc.phoneNumberID = os.Getenv("WHATSAPP_PHONE_NUMBER_ID")

	svc.templateName = os.Getenv("WHATSAPP_TEMPLATE_NAME")
	if svc.templateName == "" {
		svc.templateName = "verification_code"
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *WhatsappService) Start() error {
	if svc.accessToken == "" {
		log.Warn("WhatsApp access token not configured, phone delivery will fail")
	}
	return nil
}

type whatsappTemplatePayload struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         whatsappTemplate `json:"template"`
}

type whatsappTemplate struct {
	Name       string              `json:"name"`
	Language   whatsappLanguage    `json:"language"`
	Components []whatsappComponent `json:"components,omitempty"`
}

type whatsappLanguage struct {
	Code string `json:"code"`
}

type whatsappComponent struct {
	Type       string              `json:"type"`
	Parameters []whatsappParameter `json:"parameters"`
}

type whatsappParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendMessage dispatches a template message to a phone number given without
// the leading plus sign.
func (svc *WhatsappService) SendMessage(ctx context.Context, toPhone string, templateParams []string) error {
	if svc.accessToken == "" || svc.phoneNumberID == "" {
		return fmt.Errorf("whatsapp transport not configured")
	}

	params := make([]whatsappParameter, 0, len(templateParams))
	for _, p := range templateParams {
		params = append(params, whatsappParameter{Type: "text", Text: p})
	}

	payload := whatsappTemplatePayload{
		MessagingProduct: "whatsapp",
		To:               toPhone,
		Type:             "template",
		Template: whatsappTemplate{
			Name:     svc.templateName,
			Language: whatsappLanguage{Code: "en"},
			Components: []whatsappComponent{
				{Type: "body", Parameters: params},
			},
		},
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", svc.apiURL, svc.phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+svc.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		log.WithError(err).WithField("to", toPhone).Error("Failed to send WhatsApp message")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{"to": toPhone, "status": resp.StatusCode}).Error("WhatsApp API returned error status")
		return fmt.Errorf("whatsapp API returned status %d", resp.StatusCode)
	}

	log.WithField("to", toPhone).Info("WhatsApp message sent successfully")
	return nil
}

// SendCodeMessage delivers a one-time code to the phone number.
func (svc *WhatsappService) SendCodeMessage(ctx context.Context, phoneWithoutPlus, code string) error {
	return svc.SendMessage(ctx, phoneWithoutPlus, []string{code})
}
