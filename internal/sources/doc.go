// Package sources defines the supported e-paper editions: how each one is
// addressed by date, which pages or slots make up an edition, and how titles
// and links are pulled out of their markup.
package sources
