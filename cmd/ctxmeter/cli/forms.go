package cli

import (
	"os"

	"github.com/charmbracelet/huh"
)

// NewAccessibleForm creates a form that honors the ACCESSIBLE environment
// variable, switching to a screen-reader friendly prompt mode when set.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(os.Getenv("ACCESSIBLE") != "")
}
