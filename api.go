package disko

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate]. The backing store (C1)
// type-asserts for this when resizing an image during format.
type Truncator interface {
	Truncate(size int64) error
}
