// internal/service/template_service.go
package service

import (
	"regexp"
	"strings"

	"github.com/leadpipe/sequencer-backend/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// RenderTemplate substitutes {placeholder} variables. Placeholders with no
// entry in data are replaced with the empty string, never left verbatim.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return placeholderRe.ReplaceAllString(result, "")
}

// TemplateVars builds the fixed variable set available to step templates:
// lead identity and contact fields plus the workspace sender identity.
func TemplateVars(lead *model.Lead, ws *model.Workspace) map[string]string {
	return map[string]string{
		"first_name":   lead.FirstName,
		"last_name":    lead.LastName,
		"email":        lead.Email,
		"company":      lead.Company,
		"phone":        lead.Phone,
		"sender_name":  ws.SenderName,
		"sender_email": ws.SenderEmail,
	}
}
