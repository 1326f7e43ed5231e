package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

// CharacterList groups the reference characters offered to a caller.
type CharacterList struct {
	System []domain.Character `json:"system"`
	Mine   []domain.Character `json:"mine"`
}

// CharacterService lists reference characters.
type CharacterService struct {
	DB *gorm.DB
}

// List returns system characters and, when userID is set, the caller's own.
func (s *CharacterService) List(ctx context.Context, userID string) (*CharacterList, error) {
	out := &CharacterList{System: []domain.Character{}, Mine: []domain.Character{}}

	sys, err := repo.ListSystemCharacters(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	if sys != nil {
		out.System = sys
	}
	if strings.TrimSpace(userID) == "" {
		return out, nil
	}
	mine, err := repo.ListUserCharacters(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if mine != nil {
		out.Mine = mine
	}
	return out, nil
}
