// Package content holds the text shown on the portfolio page.
package content

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

//go:embed portfolio.yaml
var defaultProfile []byte

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid content")

// Block ids of the page sections, in page order. Each one is animated
// independently when it scrolls into view.
const (
	BlockHero       = "about"
	BlockAbout      = "about-me"
	BlockEducation  = "education"
	BlockExperience = "experience"
	BlockProjects   = "projects"
	BlockContact    = "contact"
)

// Blocks lists every section block id in page order.
func Blocks() []string {
	return []string{BlockHero, BlockAbout, BlockEducation, BlockExperience, BlockProjects, BlockContact}
}

type Profile struct {
	Name       string       `yaml:"name"`
	Headline   string       `yaml:"headline"`
	Tagline    string       `yaml:"tagline"`
	Photo      string       `yaml:"photo"`
	CVURL      string       `yaml:"cv_url"`
	Nav        []NavItem    `yaml:"nav"`
	About      About        `yaml:"about"`
	Education  []Education  `yaml:"education"`
	Experience []Experience `yaml:"experience"`
	Projects   []Project    `yaml:"projects"`
	Contact    Contact      `yaml:"contact"`
	Footer     string       `yaml:"footer"`

	aboutHTML template.HTML
}

type NavItem struct {
	Name string `yaml:"name"`
	Icon string `yaml:"icon"`
}

// Anchor is the in-page fragment the item links to.
func (n NavItem) Anchor() string {
	return strings.ToLower(n.Name)
}

type About struct {
	Title      string      `yaml:"title"`
	Body       string      `yaml:"body"`
	Highlights []Highlight `yaml:"highlights"`
}

type Highlight struct {
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

type Education struct {
	Degree      string `yaml:"degree"`
	Period      string `yaml:"period"`
	Institution string `yaml:"institution"`
}

type Experience struct {
	Role         string   `yaml:"role"`
	Period       string   `yaml:"period"`
	Organization string   `yaml:"organization"`
	Points       []string `yaml:"points"`
}

type Project struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Image       string `yaml:"image"`
}

type Contact struct {
	Phone    string `yaml:"phone"`
	Email    string `yaml:"email"`
	LinkedIn string `yaml:"linkedin"`
}

// PhoneHref is the tel: link for the phone number. Contact details come
// from the site owner, so the URL is trusted.
func (c Contact) PhoneHref() template.URL {
	return template.URL("tel:" + strings.NewReplacer(" ", "", "-", "").Replace(c.Phone))
}

// AboutHTML is the about body rendered from markdown.
func (p *Profile) AboutHTML() template.HTML {
	return p.aboutHTML
}

// Default returns the profile compiled into the binary.
func Default() (*Profile, error) {
	return Parse(defaultProfile)
}

// Load reads a profile from path, or the built-in one when path is empty.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes, validates and renders a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing content: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(p.About.Body), &buf); err != nil {
		return nil, fmt.Errorf("rendering about: %w", err)
	}
	p.aboutHTML = template.HTML(buf.String())

	return &p, nil
}

// Validate checks the fields the page cannot render without.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(p.Nav) == 0 {
		return fmt.Errorf("%w: nav is empty", ErrInvalid)
	}
	seen := make(map[string]bool, len(p.Nav))
	for i, n := range p.Nav {
		if n.Name == "" {
			return fmt.Errorf("%w: nav[%d] has no name", ErrInvalid, i)
		}
		if seen[n.Anchor()] {
			return fmt.Errorf("%w: duplicate nav anchor %q", ErrInvalid, n.Anchor())
		}
		seen[n.Anchor()] = true
	}
	for i, e := range p.Education {
		if e.Degree == "" {
			return fmt.Errorf("%w: education[%d] has no degree", ErrInvalid, i)
		}
	}
	for i, e := range p.Experience {
		if e.Role == "" {
			return fmt.Errorf("%w: experience[%d] has no role", ErrInvalid, i)
		}
	}
	for i, pr := range p.Projects {
		if pr.Title == "" {
			return fmt.Errorf("%w: projects[%d] has no title", ErrInvalid, i)
		}
	}
	return nil
}
