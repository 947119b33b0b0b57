package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GenericDivisionCode prefixes project codes that have no division
const GenericDivisionCode = "GEN"

// maxCodeAttempts bounds the collision scan
const maxCodeAttempts = 1000

// DivisionCodeBase strips whitespace from name and keeps the first four characters uppercased
func DivisionCodeBase(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		n++
		if n == 4 {
			break
		}
	}
	if b.Len() == 0 {
		return "DIV"
	}
	return b.String()
}

// ProjectCodeBase renders {division code}-{year}-{6 hex} using the first hex digits of id
func ProjectCodeBase(divisionCode string, year int, id uuid.UUID) string {
	if divisionCode == "" {
		divisionCode = GenericDivisionCode
	}
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:6]
	return fmt.Sprintf("%s-%d-%s", divisionCode, year, hex)
}

// codeTaken reports whether code is used in table by a row other than exclude
func codeTaken(ctx context.Context, db *gorm.DB, model interface{}, code string, exclude *uuid.UUID) (bool, error) {
	q := db.WithContext(ctx).Model(model).Where("code = ?", code)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// NextDivisionCode returns ENGI, ENGI1, ENGI2, ... whichever is free first
func NextDivisionCode(ctx context.Context, db *gorm.DB, name string, exclude *uuid.UUID) (string, error) {
	base := DivisionCodeBase(name)
	for i := 0; i < maxCodeAttempts; i++ {
		code := base
		if i > 0 {
			code = fmt.Sprintf("%s%d", base, i)
		}
		taken, err := codeTaken(ctx, db, &models.Division{}, code, exclude)
		if err != nil {
			return "", fmt.Errorf("checking division code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free division code for %q", name)
}

// NextProjectCode returns the base code or base-1, base-2, ... whichever is free first
func NextProjectCode(ctx context.Context, db *gorm.DB, divisionCode string, now time.Time, exclude *uuid.UUID) (string, error) {
	base := ProjectCodeBase(divisionCode, now.Year(), uuid.New())
	for i := 0; i < maxCodeAttempts; i++ {
		code := base
		if i > 0 {
			code = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := codeTaken(ctx, db, &models.Project{}, code, exclude)
		if err != nil {
			return "", fmt.Errorf("checking project code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free project code for %q", base)
}
