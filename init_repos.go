package main

import (
	"database/sql"

	"github.com/akinalp/convo/repository"
)

// Repositories groups the pool-backed repositories. Services that write
// build transaction-scoped ones themselves.
type Repositories struct {
	User         repository.UserRepository
	Conversation repository.ConversationRepository
	Message      repository.MessageRepository
	Reaction     repository.ReactionRepository
}

func initRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		User:         repository.NewSQLiteUserRepo(conn),
		Conversation: repository.NewSQLiteConversationRepo(conn),
		Message:      repository.NewSQLiteMessageRepo(conn),
		Reaction:     repository.NewSQLiteReactionRepo(conn),
	}
}
