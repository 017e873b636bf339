package database

// Store bundles the repositories behind the session, migration and account services.
type Store struct {
	*SessionRepository
	*AnswerRepository
	*RecordRepository
}

// NewStore creates the repositories sharing one connection pool.
func NewStore(db *DB) *Store {
	return &Store{
		SessionRepository: NewSessionRepository(db),
		AnswerRepository:  NewAnswerRepository(db),
		RecordRepository:  NewRecordRepository(db),
	}
}
