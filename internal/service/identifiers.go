package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const maxSlugCounter = 50

// newOrderNumber returns ORD- followed by 8 upper-case hex characters
func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// uniqueSlug derives a slug from title and disambiguates it with -2, -3, ...
// until exists reports it free. After maxSlugCounter collisions a random
// suffix is used instead.
func uniqueSlug(ctx context.Context, title string, exists func(context.Context, string) (bool, error)) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "item"
	}

	for n := 1; n <= maxSlugCounter; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", base, n)
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%s", base, uuid.New().String()[:8]), nil
}
