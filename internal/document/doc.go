// Package document exposes page-addressable text for source documents.
//
// PDFs are read through github.com/ledongthuc/pdf; plain text files are split
// into pages on form feeds. Clean normalizes extracted text before it is
// measured against the minimum page length and sent to the API.
package document
