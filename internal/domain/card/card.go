package card

import "strings"

type Card struct {
	UUID       string
	Name       string
	SetCode    string
	SetName    string
	Rarity     string
	TypeLine   string
	ManaCost   string
	CMC        float64
	OracleText string
}

func NewCard(c Card) (Card, error) {
	c.UUID = strings.TrimSpace(c.UUID)
	c.Name = strings.TrimSpace(c.Name)
	if c.UUID == "" {
		return Card{}, ErrMissingUUID
	}
	if c.Name == "" {
		return Card{}, ErrMissingName
	}
	c.SetCode = strings.ToUpper(strings.TrimSpace(c.SetCode))
	return c, nil
}
