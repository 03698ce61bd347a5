// Package textutil provides text processing utilities for title similarity
// and file-name tokens.
//
// The primary use cases are:
//   - Folding and tokenizing meeting titles for comparison
//   - Computing cosine similarity between token fingerprints
//   - Turning meeting titles into file-name tokens for transcript files
//
// Tokenization case-folds text, strips combining accents, splits on anything
// that is not a letter or digit, and drops single-character tokens.
package textutil
