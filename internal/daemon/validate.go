package daemon

import (
	"fmt"
	"regexp"
)

var validSlotName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxSlotNameLen = 64

// ValidateSlotName checks a slot name. Slot names double as spool file
// names, so the character set is restricted.
func ValidateSlotName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: slot name cannot be empty", ErrInvalidRequest)
	}
	if len(name) > maxSlotNameLen {
		return fmt.Errorf("%w: slot name too long (max %d chars)", ErrInvalidRequest, maxSlotNameLen)
	}
	if !validSlotName.MatchString(name) {
		return fmt.Errorf("%w: slot name must start with alphanumeric and contain only letters, numbers, dots, dashes, or underscores", ErrInvalidRequest)
	}
	return nil
}
