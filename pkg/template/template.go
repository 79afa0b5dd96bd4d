// Package template renders message subjects and bodies with customer and
// trigger data.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// RenderMessage renders a subject or body template against the customer and
// the execution's trigger-time payload. Available data:
//
//	{{.customer.first_name}}   customer fields
//	{{.trigger.order_id}}      whatever the trigger payload carried
func RenderMessage(input string, customer *models.Customer, triggerPayload map[string]any) (string, error) {
	data := map[string]any{
		"customer": map[string]any{
			"id":           customer.ID,
			"email":        customer.Email,
			"first_name":   customer.FirstName,
			"last_name":    customer.LastName,
			"tags":         customer.Tags,
			"orders_count": customer.OrdersCount,
		},
		"trigger": triggerPayload,
	}

	return Render(input, data)
}

// Render executes a text/template with the given data.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("message").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}
