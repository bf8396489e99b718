package message

import (
	"fmt"
	"net/url"
	"strings"
)

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
)

// Content is the body of a message. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Content struct {
	Kind     Kind      `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	Location *Location `json:"location,omitempty"`
	Contact  *Contact  `json:"contact,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Contact struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

func Text(body string) Content {
	return Content{Kind: KindText, Text: body}
}

func Image(imageURL string) Content {
	return Content{Kind: KindImage, ImageURL: imageURL}
}

func At(latitude, longitude float64) Content {
	return Content{Kind: KindLocation, Location: &Location{Latitude: latitude, Longitude: longitude}}
}

func ContactCard(name, phone string) Content {
	return Content{Kind: KindContact, Contact: &Contact{Name: name, PhoneNumber: phone}}
}

func (c Content) Validate() error {
	switch c.Kind {
	case KindText:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidInput)
		}
	case KindImage:
		u, err := url.Parse(c.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: bad image url", ErrInvalidInput)
		}
	case KindLocation:
		if c.Location == nil {
			return fmt.Errorf("%w: missing location", ErrInvalidInput)
		}
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 ||
			c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
		}
	case KindContact:
		if c.Contact == nil || strings.TrimSpace(c.Contact.Name) == "" || strings.TrimSpace(c.Contact.PhoneNumber) == "" {
			return fmt.Errorf("%w: incomplete contact", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrInvalidInput, c.Kind)
	}
	return nil
}

// Preview is the one-line text shown for the message in list views.
func (c Content) Preview() string {
	switch c.Kind {
	case KindImage:
		return "Attachment: Image"
	case KindLocation:
		return "Shared location"
	case KindContact:
		return "Shared contact"
	default:
		return c.Text
	}
}

// Equal compares the payload selected by Kind.
func (c Content) Equal(other Content) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case KindImage:
		return c.ImageURL == other.ImageURL
	case KindLocation:
		if c.Location == nil || other.Location == nil {
			return c.Location == other.Location
		}
		return *c.Location == *other.Location
	case KindContact:
		if c.Contact == nil || other.Contact == nil {
			return c.Contact == other.Contact
		}
		return *c.Contact == *other.Contact
	default:
		return c.Text == other.Text
	}
}
