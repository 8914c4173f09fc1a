// Package sheets is the read-only adapter over the spreadsheet that backs
// the form.
//
// A spreadsheet is addressed by an opaque identifier. Only its first sheet
// is used: row 1 holds the field names and every following row is one
// submission. Rows are 1-based and every read is a pass-through to the
// backend; nothing is cached.
//
// Drivers:
//   - sqlite: rows stored as JSON arrays in a local database that a form
//     backend appends to
//   - gsheets: Google Sheets API v4 with a service account
package sheets
