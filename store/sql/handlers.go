package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func consumerHandlers() repository.ModelHandlers[*consumerRecord] {
	return repository.ModelHandlers[*consumerRecord]{
		NewRecord: func() *consumerRecord {
			return &consumerRecord{}
		},
		GetID: func(record *consumerRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *consumerRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *consumerRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func requestTokenHandlers() repository.ModelHandlers[*requestTokenRecord] {
	return repository.ModelHandlers[*requestTokenRecord]{
		NewRecord: func() *requestTokenRecord {
			return &requestTokenRecord{}
		},
		GetID: func(record *requestTokenRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *requestTokenRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *requestTokenRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func accessTokenHandlers() repository.ModelHandlers[*accessTokenRecord] {
	return repository.ModelHandlers[*accessTokenRecord]{
		NewRecord: func() *accessTokenRecord {
			return &accessTokenRecord{}
		},
		GetID: func(record *accessTokenRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *accessTokenRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *accessTokenRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func shareHandlers() repository.ModelHandlers[*shareRecord] {
	return repository.ModelHandlers[*shareRecord]{
		NewRecord: func() *shareRecord {
			return &shareRecord{}
		},
		GetID: func(record *shareRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *shareRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *shareRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
