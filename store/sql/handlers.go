package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// recordHandlers builds the uuid keyed handlers every shim record shares.
func recordHandlers[T any](newRecord func() T, id func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			field := id(record)
			if field == nil {
				return uuid.Nil
			}
			return parseUUID(*field)
		},
		SetID: func(record T, value uuid.UUID) {
			if field := id(record); field != nil {
				*field = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			field := id(record)
			if field == nil {
				return ""
			}
			return strings.TrimSpace(*field)
		},
	}
}

func authorizationInfoHandlers() repository.ModelHandlers[*authorizationInfoRecord] {
	return recordHandlers(
		func() *authorizationInfoRecord { return &authorizationInfoRecord{} },
		func(record *authorizationInfoRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func authorizationTokenHandlers() repository.ModelHandlers[*authorizationTokenRecord] {
	return recordHandlers(
		func() *authorizationTokenRecord { return &authorizationTokenRecord{} },
		func(record *authorizationTokenRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func schemaHandlers() repository.ModelHandlers[*schemaRecord] {
	return recordHandlers(
		func() *schemaRecord { return &schemaRecord{} },
		func(record *schemaRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func dataPointHandlers() repository.ModelHandlers[*dataPointRecord] {
	return recordHandlers(
		func() *dataPointRecord { return &dataPointRecord{} },
		func(record *dataPointRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
