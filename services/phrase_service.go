package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"unicode"

	"emojiparty/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PhraseService manages the phrase catalog in Postgres and keeps the
// selector in sync with it. Without a database the built-in catalog is
// served read-only.
type PhraseService struct {
	db       *gorm.DB
	selector *PhraseSelector
}

func NewPhraseService(db *gorm.DB, selector *PhraseSelector) *PhraseService {
	return &PhraseService{db: db, selector: selector}
}

type CreatePhraseRequest struct {
	Text       string   `json:"text" binding:"required,max=100"`
	Category   string   `json:"category" binding:"required,max=32"`
	Difficulty string   `json:"difficulty" binding:"required,oneof=easy medium hard"`
	Hints      []string `json:"hints" binding:"max=5,dive,max=64"`
}

// Slug builds the stable phrase id from its category and text.
func Slug(category, text string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(category + " " + text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func phraseRecord(p models.Phrase) models.PhraseRecord {
	hints, _ := json.Marshal(p.Hints)
	return models.PhraseRecord{
		Slug:       p.ID,
		Text:       p.Text,
		Category:   p.Category,
		Difficulty: string(p.Difficulty),
		Hints:      datatypes.JSON(hints),
	}
}

// LoadCatalog reads the catalog into the selector, seeding the table with
// the built-in phrases when it is empty.
func (s *PhraseService) LoadCatalog(ctx context.Context) error {
	if s.db == nil {
		s.selector.Reload(DefaultPhrases())
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PhraseRecord{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, p := range DefaultPhrases() {
				record := phraseRecord(p)
				if err := tx.Create(&record).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Printf("[PhraseService] seeded %d built-in phrases", len(DefaultPhrases()))
	}
	return s.reload(ctx)
}

func (s *PhraseService) reload(ctx context.Context) error {
	var records []models.PhraseRecord
	if err := s.db.WithContext(ctx).Order("category, slug").Find(&records).Error; err != nil {
		return err
	}
	phrases := make([]models.Phrase, 0, len(records))
	for i := range records {
		phrases = append(phrases, records[i].Phrase())
	}
	s.selector.Reload(phrases)
	log.Printf("[PhraseService] catalog loaded with %d phrases", len(phrases))
	return nil
}

// ListPhrases returns the catalog, optionally restricted to one category.
func (s *PhraseService) ListPhrases(ctx context.Context, category string) []models.Phrase {
	catalog := s.selector.Catalog()
	if category == "" {
		return catalog
	}
	filtered := make([]models.Phrase, 0, len(catalog))
	for _, p := range catalog {
		if p.Category == category {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func (s *PhraseService) CreatePhrase(ctx context.Context, req *CreatePhraseRequest) (*models.Phrase, error) {
	if s.db == nil {
		return nil, newError(KindCatalogReadOnly, "the phrase catalog is read-only without a database")
	}

	phrase := models.Phrase{
		Text:       Normalize(req.Text),
		Category:   strings.ToLower(strings.TrimSpace(req.Category)),
		Difficulty: models.Difficulty(req.Difficulty),
		Hints:      req.Hints,
	}
	if phrase.Text == "" || phrase.Category == "" || !phrase.Difficulty.Valid() {
		return nil, newError(KindValidation, "text, category and a valid difficulty are required")
	}
	phrase.ID = Slug(phrase.Category, phrase.Text)

	var existing int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&models.PhraseRecord{}).Where("slug = ?", phrase.ID).Count(&existing).Error; err != nil {
		return nil, serverError("failed to check phrase", err)
	}
	if existing > 0 {
		return nil, newError(KindPhraseExists, "phrase %s already exists", phrase.ID)
	}

	record := phraseRecord(phrase)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, serverError("failed to create phrase", err)
	}
	if err := s.reload(ctx); err != nil {
		log.Printf("[PhraseService] reload after create failed: %v", err)
	}

	created := record.Phrase()
	return &created, nil
}

// deletePhraseQuery removes the row outright so the slug can be created again.
func deletePhraseQuery(db *gorm.DB, slug string) *gorm.DB {
	return db.Unscoped().Where("slug = ?", slug).Delete(&models.PhraseRecord{})
}

// DeletePhrase removes a phrase. Games never see it again, but rounds that
// already used it keep their copy.
func (s *PhraseService) DeletePhrase(ctx context.Context, slug string) error {
	if s.db == nil {
		return newError(KindCatalogReadOnly, "the phrase catalog is read-only without a database")
	}

	result := deletePhraseQuery(s.db.WithContext(ctx), slug)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return newError(KindPhraseNotFound, "phrase %s not found", slug)
		}
		return serverError("failed to delete phrase", result.Error)
	}
	if result.RowsAffected == 0 {
		return newError(KindPhraseNotFound, "phrase %s not found", slug)
	}
	if err := s.reload(ctx); err != nil {
		log.Printf("[PhraseService] reload after delete failed: %v", err)
	}
	return nil
}
