// Package sanitizer normalizes booking contact data before validation and storage.
//
// All functions are idempotent. Input that cannot be normalized is returned
// trimmed but otherwise untouched, so the validator reports it with a precise
// message instead of a generic "required" error.
//
// Normalization includes:
//   - Phone numbers: E.164 (+[country][number]); national numbers use DefaultRegion
//   - Emails: trimmed and lowercased
//   - Free text (locations, notes): whitespace collapsed, trimmed
//   - Coupon codes: trimmed and uppercased
package sanitizer
