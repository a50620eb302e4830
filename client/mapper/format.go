// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package mapper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/croessner/batchpost/client/errors"
)

const dateLayout = "2006-01-02"

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// Day-first layouts come before month-first ones.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"2006/01/02",
	"01-02-06",
	"02 Jan 2006",
	"2 January 2006",
}

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// parseNumber accepts decimal commas and ignores units such as "kg" or "cm".
func parseNumber(value string) (float64, error) {
	cleaned := nonNumeric.ReplaceAllString(strings.ReplaceAll(strings.TrimSpace(value), ",", "."), "")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", errors.ErrBadNumber, value)
	}

	number, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errors.ErrBadNumber, value)
	}

	return number, nil
}

func formatInt(value string) (string, error) {
	number, err := parseNumber(value)
	if err != nil {
		return "", err
	}

	return strconv.FormatInt(int64(math.Trunc(number)), 10), nil
}

func formatFloat1(number float64) string {
	return strconv.FormatFloat(number, 'f', 1, 64)
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 0 && serial < 100000 {
		return excelEpoch.AddDate(0, 0, int(serial)), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", errors.ErrBadDate, value)
}

func formatDate(value string) (string, error) {
	parsed, err := parseDate(value)
	if err != nil {
		return "", err
	}

	return parsed.Format(dateLayout), nil
}

// age returns completed years and the remaining months between birth and now.
func age(birth, now time.Time) (years, months int) {
	years = now.Year() - birth.Year()
	months = int(now.Month()) - int(birth.Month())

	if now.Day() < birth.Day() {
		months--
	}

	if months < 0 {
		years--
		months += 12
	}

	return years, months
}

// bmi computes the body mass index from kilograms and centimetres.
func bmi(weight, height string) (string, error) {
	kg, err := parseNumber(weight)
	if err != nil {
		return "", err
	}

	cm, err := parseNumber(height)
	if err != nil {
		return "", err
	}

	if cm <= 0 {
		return "", fmt.Errorf("%w: height %q", errors.ErrBadNumber, height)
	}

	metres := cm / 100

	return formatFloat1(kg / (metres * metres)), nil
}
