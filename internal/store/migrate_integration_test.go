// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

//go:build integration

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/petiverso/petiverso/internal/store"
	"github.com/petiverso/petiverso/internal/store/storetest"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx      context.Context
		db       *storetest.Database
		migrator *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		db, err = storetest.Start(ctx)
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(db.URL)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			Expect(migrator.Close()).To(Succeed())
		}
		if db != nil {
			db.Close(ctx)
		}
	})

	It("reports the schema fully applied", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(Equal(uint(3)))
		Expect(st.Dirty).To(BeFalse())
		Expect(st.Name).To(Equal("000003_create_login_attempts"))
		Expect(st.Pending).To(BeEmpty())
	})

	It("treats a repeated Up as a no-op", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("steps down and back up", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(2)))

		var exists bool
		Expect(db.Pool.QueryRow(ctx, `SELECT to_regclass('login_attempts') IS NOT NULL`).Scan(&exists)).To(Succeed())
		Expect(exists).To(BeFalse())

		Expect(migrator.Steps(1)).To(Succeed())
		v, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(3)))
	})

	It("enforces the named unique constraints", func() {
		_, err := db.Pool.Exec(ctx, `
			INSERT INTO users (id, external_id, username, email, password_hash)
			VALUES ('01J00000000000000000000001', gen_random_uuid(), 'alice', 'alice@example.com', 'h')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = db.Pool.Exec(ctx, `
			INSERT INTO users (id, external_id, username, email, password_hash)
			VALUES ('01J00000000000000000000002', gen_random_uuid(), 'alice', 'other@example.com', 'h')`)
		Expect(err).To(MatchError(ContainSubstring("users_username_key")))

		Expect(db.Truncate(ctx)).To(Succeed())
	})

	It("forces a version without running SQL", func() {
		Expect(migrator.Force(1)).To(Succeed())
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(Equal(uint(1)))
		Expect(st.Pending).To(Equal([]uint{2, 3}))

		Expect(migrator.Force(3)).To(Succeed())
	})

	It("drops everything on Down", func() {
		Expect(migrator.Down()).To(Succeed())
		v, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
		Expect(dirty).To(BeFalse())

		Expect(migrator.Up()).To(Succeed())
	})
})
