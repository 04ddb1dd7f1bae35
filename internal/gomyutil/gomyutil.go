// Package gomyutil adapts github.com/devlights/gomy's generic helpers to
// the small number of places this module needs a "this cannot fail" guard;
// its one caller is batch's PublishAbandoned, which allocates the frames of
// a new abandoned chain through MustPage2. Kept as a thin wrapper rather than
// calling gomy.Must directly everywhere so the panic message stays
// domain-specific.
package gomyutil

import "github.com/devlights/gomy/must"

// MustPage unwraps a (page, error) pair that can only fail on a logic bug
// (e.g. a corrupt header on a page this batch itself just wrote), a
// CorruptedPage-class situation the caller should never see in practice.
func MustPage[T any](v T, err error) T {
	return must.Must(v, err)
}

// MustPage2 is MustPage for the two-value form GetNewPage returns (a page
// plus the address it was allocated at).
func MustPage2[T, U any](v T, u U, err error) (T, U) {
	if err != nil {
		panic(err)
	}
	return v, u
}
