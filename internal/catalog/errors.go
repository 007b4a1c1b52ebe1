package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNegativeStock       = errors.New("variant stock must not be negative")
	ErrVariantNotDisplayed = errors.New("variant is not displayed")
)

// DuplicateVariantError reports a (color, size) pair that already exists among
// the displayed variants of a product.
type DuplicateVariantError struct {
	ColorID int64
	SizeID  int64
}

func (e *DuplicateVariantError) Error() string {
	return fmt.Sprintf("duplicate variant: color %d, size %d already exists", e.ColorID, e.SizeID)
}
