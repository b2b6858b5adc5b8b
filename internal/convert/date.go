package convert

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
)

// NoYear is the year component of a date whose year is unknown.
const NoYear = "-"

// EncodeDate assembles a date from its decomposed parts. It returns
// YYYY-MM-DD, or --MM-DD when the year is empty or NoYear. A date without
// month and day encodes to "".
func EncodeDate(year, month, day string) (string, error) {
	year, month, day = strings.TrimSpace(year), strings.TrimSpace(month), strings.TrimSpace(day)
	if month == "" && day == "" {
		return "", nil
	}
	m, err := datePart(month, 1, 12)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrData, "invalid month", err)
	}
	d, err := datePart(day, 1, 31)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrData, "invalid day", err)
	}
	if year == "" || year == NoYear {
		return fmt.Sprintf("--%02d-%02d", m, d), nil
	}
	y, err := datePart(year, 1, 9999)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrData, "invalid year", err)
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), nil
}

// DecodeDate splits an encoded date into a 4-digit year (NoYear when
// absent), a 2-digit month and a 2-digit day.
func DecodeDate(s string) (year, month, day string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", "", nil
	}

	var y, m, d string
	if strings.HasPrefix(s, "--") {
		parts := strings.Split(s[2:], "-")
		if len(parts) != 2 {
			return "", "", "", apperrors.Newf(apperrors.ErrData, "unparseable date %q", s)
		}
		y, m, d = NoYear, parts[0], parts[1]
	} else {
		parts := strings.Split(s, "-")
		if len(parts) != 3 {
			return "", "", "", apperrors.Newf(apperrors.ErrData, "unparseable date %q", s)
		}
		y, m, d = parts[0], parts[1], parts[2]
	}

	mi, err := datePart(m, 1, 12)
	if err != nil {
		return "", "", "", apperrors.Wrap(apperrors.ErrData, fmt.Sprintf("unparseable date %q", s), err)
	}
	di, err := datePart(d, 1, 31)
	if err != nil {
		return "", "", "", apperrors.Wrap(apperrors.ErrData, fmt.Sprintf("unparseable date %q", s), err)
	}
	year = NoYear
	if y != NoYear {
		yi, err := datePart(y, 1, 9999)
		if err != nil {
			return "", "", "", apperrors.Wrap(apperrors.ErrData, fmt.Sprintf("unparseable date %q", s), err)
		}
		year = fmt.Sprintf("%04d", yi)
	}
	return year, fmt.Sprintf("%02d", mi), fmt.Sprintf("%02d", di), nil
}

// NormalizeDate re-encodes s in canonical form.
func NormalizeDate(s string) (string, error) {
	y, m, d, err := DecodeDate(s)
	if err != nil {
		return "", err
	}
	return EncodeDate(y, m, d)
}

func datePart(s string, min, max int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, min, max)
	}
	return n, nil
}
