package openai

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldops/docsorter/constants"
	"github.com/fieldops/docsorter/internal/entity"
)

// buildSystemPrompt composes the system message with the active entity
// roster so the model answers with a known code or name.
func buildSystemPrompt(entities []*entity.Entity) string {
	var roster strings.Builder
	for _, e := range entities {
		roster.WriteString("- code=" + e.Code + " name=" + e.Name)
		if len(e.Aliases) > 0 {
			roster.WriteString(" aliases=" + strings.Join(e.Aliases, "|"))
		}
		roster.WriteString("\n")
	}

	parts := []string{
		"You attribute photographed paper documents (work orders, purchase orders) to a business entity.",
		"Return ONLY JSON that matches the provided JSON Schema.",
		"Pick the entity from the known list below; prefer returning its exact 'entity_code'.",
		"If none fits, omit entity_name and entity_code and explain why in 'reasoning'.",
		"'confidence' is your certainty in [0,1]. 'reasoning' is one or two short sentences.",
		"Known entities:\n" + roster.String(),
	}
	return strings.Join(parts, "\n")
}

func readAsDataURL(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mt := constants.ExtToMIME(filepath.Ext(path))
	if mt == "" {
		mt = "application/octet-stream"
	}
	data := base64.StdEncoding.EncodeToString(b)
	return fmt.Sprintf("data:%s;base64,%s", mt, data), nil
}
