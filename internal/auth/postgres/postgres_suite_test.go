// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

//go:build integration

package postgres_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/petiverso/petiverso/internal/store/storetest"
)

var testDB *storetest.Database

func TestPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Postgres Suite")
}

var _ = BeforeSuite(func() {
	var err error
	testDB, err = storetest.Start(context.Background())
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if testDB != nil {
		testDB.Close(context.Background())
	}
})

var _ = AfterEach(func() {
	Expect(testDB.Truncate(context.Background())).To(Succeed())
})
