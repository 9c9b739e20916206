// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/petiverso/petiverso/internal/auth"
	"github.com/petiverso/petiverso/internal/auth/postgres"
)

var _ = Describe("auth repositories", func() {
	var (
		ctx      context.Context
		users    *postgres.UserRepository
		sessions *postgres.SessionRepository
		attempts *postgres.AttemptRepository
		tx       *postgres.Transactor
		now      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		users = postgres.NewUserRepository(testDB.Pool)
		sessions = postgres.NewSessionRepository(testDB.Pool)
		attempts = postgres.NewAttemptRepository(testDB.Pool)
		tx = postgres.NewTransactor(testDB.Pool)
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	createUser := func(username, email string) *auth.User {
		user, err := auth.NewUser(username, email, "hash", now)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, user)).To(Succeed())
		return user
	}

	createSession := func(user *auth.User, ttl time.Duration) (*auth.Session, string) {
		token, hash, err := auth.GenerateSessionToken()
		Expect(err).NotTo(HaveOccurred())
		session, err := auth.NewSession(user.ID, hash, now, now.Add(ttl))
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions.Create(ctx, session)).To(Succeed())
		return session, token
	}

	Describe("UserRepository", func() {
		It("round-trips a user by every key", func() {
			user := createUser("alice", "alice@example.com")

			byName, err := users.GetByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(byName).To(Equal(user))

			byExternal, err := users.GetByExternalID(ctx, user.ExternalID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byExternal.ID).To(Equal(user.ID))

			byID, err := users.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.ExternalID).To(Equal(user.ExternalID))
		})

		It("matches usernames case-sensitively", func() {
			createUser("alice", "alice@example.com")
			_, err := users.GetByUsername(ctx, "Alice")
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		DescribeTable("names the colliding field",
			func(username, email, field string) {
				createUser("alice", "alice@example.com")

				dup, err := auth.NewUser(username, email, "hash", now)
				Expect(err).NotTo(HaveOccurred())
				err = users.Create(ctx, dup)

				Expect(errors.Is(err, auth.ErrDuplicateIdentity)).To(BeTrue())
				var dupErr *auth.DuplicateIdentityError
				Expect(errors.As(err, &dupErr)).To(BeTrue())
				Expect(dupErr.Field).To(Equal(field))
			},
			Entry("username", "alice", "bob@example.com", auth.FieldUsername),
			Entry("email", "bob", "alice@example.com", auth.FieldEmail),
		)

		It("admits exactly one of many concurrent registrations for a username", func() {
			const workers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				dupes     int
			)
			for i := range workers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					user, err := auth.NewUser("racer", fmt.Sprintf("racer%d@example.com", i), "hash", now)
					Expect(err).NotTo(HaveOccurred())
					err = users.Create(ctx, user)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, auth.ErrDuplicateIdentity):
						dupes++
					}
				}(i)
			}
			wg.Wait()
			Expect(succeeded).To(Equal(1))
			Expect(dupes).To(Equal(workers - 1))
		})
	})

	Describe("SessionRepository", func() {
		It("never moves expiry backward", func() {
			user := createUser("alice", "alice@example.com")
			session, _ := createSession(user, 8*time.Hour)

			later := now.Add(10 * time.Hour)
			got, err := sessions.UpdateExpiry(ctx, session.TokenHash, later)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeTemporally("==", later))

			got, err = sessions.UpdateExpiry(ctx, session.TokenHash, now.Add(9*time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeTemporally("==", later))
		})

		It("reports a missing session on update and delete", func() {
			_, err := sessions.UpdateExpiry(ctx, "missing", now)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
			Expect(errors.Is(sessions.Delete(ctx, "missing"), auth.ErrNotFound)).To(BeTrue())
		})

		It("deletes a session once", func() {
			user := createUser("alice", "alice@example.com")
			session, _ := createSession(user, time.Hour)

			Expect(sessions.Delete(ctx, session.TokenHash)).To(Succeed())
			Expect(errors.Is(sessions.Delete(ctx, session.TokenHash), auth.ErrNotFound)).To(BeTrue())
		})

		It("prunes only expired sessions", func() {
			user := createUser("alice", "alice@example.com")
			short, _ := createSession(user, time.Minute)
			long, _ := createSession(user, time.Hour)

			n, err := sessions.DeleteExpired(ctx, now.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = sessions.GetByTokenHash(ctx, short.TokenHash)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
			_, err = sessions.GetByTokenHash(ctx, long.TokenHash)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Transactor", func() {
		It("keeps the session when the audit insert fails inside the transaction", func() {
			user := createUser("alice", "alice@example.com")
			token, hash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())
			session, err := auth.NewSession(user.ID, hash, now, now.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())

			attempt := auth.NewLoginAttempt(user, auth.Credentials{Username: "alice"}, true, now)
			Expect(attempts.Append(ctx, attempt)).To(Succeed())

			err = tx.InTransaction(ctx, func(ctx context.Context) error {
				if err := sessions.Create(ctx, session); err != nil {
					return err
				}
				// Same id again: primary key violation confined to a savepoint.
				Expect(attempts.Append(ctx, attempt)).NotTo(Succeed())
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			stored, err := sessions.GetByTokenHash(ctx, auth.HashSessionToken(token))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).To(Equal(session.ID))
		})

		It("rolls back the session and attempt together", func() {
			user := createUser("alice", "alice@example.com")
			session, _ := func() (*auth.Session, string) {
				token, hash, err := auth.GenerateSessionToken()
				Expect(err).NotTo(HaveOccurred())
				s, err := auth.NewSession(user.ID, hash, now, now.Add(time.Hour))
				Expect(err).NotTo(HaveOccurred())
				return s, token
			}()
			attempt := auth.NewLoginAttempt(user, auth.Credentials{Username: "alice"}, true, now)

			boom := errors.New("boom")
			err := tx.InTransaction(ctx, func(ctx context.Context) error {
				Expect(sessions.Create(ctx, session)).To(Succeed())
				Expect(attempts.Append(ctx, attempt)).To(Succeed())
				return boom
			})
			Expect(errors.Is(err, boom)).To(BeTrue())

			_, err = sessions.GetByTokenHash(ctx, session.TokenHash)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())

			var count int
			Expect(testDB.Pool.QueryRow(ctx, `SELECT count(*) FROM login_attempts`).Scan(&count)).To(Succeed())
			Expect(count).To(BeZero())
		})
	})

	Describe("AttemptRepository", func() {
		It("stores unknown-user attempts with a null reference", func() {
			attempt := auth.NewLoginAttempt(nil, auth.Credentials{Username: "ghost", RemoteAddr: "10.0.0.9"}, false, now)
			Expect(attempts.Append(ctx, attempt)).To(Succeed())

			var (
				userID  *string
				success bool
			)
			Expect(testDB.Pool.QueryRow(ctx,
				`SELECT user_external_id::text, success FROM login_attempts WHERE id = $1`, attempt.ID.String()).
				Scan(&userID, &success)).To(Succeed())
			Expect(userID).To(BeNil())
			Expect(success).To(BeFalse())
		})
	})
})
