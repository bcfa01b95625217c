package types

import "time"

// Book kinds.
const (
	// KindPhysical marks a book held as physical copies that can be loaned.
	KindPhysical = "physical"

	// KindDigital marks a book available only as uploaded files.
	// Digital books always carry zero copies and are never loaned.
	KindDigital = "digital"
)

// Derived availability labels reported by the catalog.
const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
)

// Book represents a catalog entry in the library.
// Physical books track an inventory count mutated only by the loan ledger;
// digital books reference uploaded files in object storage instead.
type Book struct {
	// ID is the unique identifier of the book.
	ID int `json:"id" db:"id"`

	// Title is the book's title.
	Title string `json:"title" db:"title"`

	// Author is the book's author.
	Author string `json:"author" db:"author"`

	// Category is a free-form classification label (e.g. "Novela").
	Category string `json:"category" db:"category"`

	// Year is the publication year.
	Year int `json:"year" db:"year"`

	// Kind is KindPhysical or KindDigital.
	Kind string `json:"kind" db:"kind"`

	// CopiesAvailable is the number of copies currently on the shelf.
	// Always zero for digital books. For physical books it only changes
	// through loan creation and return.
	CopiesAvailable int `json:"copies_available" db:"copies_available"`

	// CoverKey is the object storage key of the cover image, if one was
	// uploaded at registration.
	CoverKey string `json:"cover_key,omitempty" db:"cover_key"`

	// FileKeys are the object storage keys of the uploaded PDF files.
	// Only digital books carry files.
	FileKeys []string `json:"file_keys,omitempty" db:"file_keys"`

	// CreatedAt is the timestamp at which the book was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the book.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Status derives the availability label from the inventory count.
func (b Book) Status() string {
	if b.CopiesAvailable > 0 {
		return StatusAvailable
	}
	return StatusUnavailable
}
