package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	t.Run("跳过注释行", func(t *testing.T) {
		stmts := splitStatements("-- header\nCREATE TABLE a (id INT);\n\n-- next\nCREATE TABLE b (id INT);\n")
		assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, stmts)
	})

	t.Run("字符串中的分号", func(t *testing.T) {
		stmts := splitStatements("INSERT INTO t VALUES ('a;b');SELECT 1")
		assert.Equal(t, []string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"}, stmts)
	})
}

func TestLoadStatements(t *testing.T) {
	for _, dbType := range []string{"postgres", "mysql"} {
		t.Run(dbType, func(t *testing.T) {
			up, err := loadStatements(dbType, "up")
			require.NoError(t, err)
			joined := strings.Join(up, "\n")
			for _, table := range []string{"email_domains", "email_addresses", "emails", "email_attachments", "domain_access", "app_settings", "profiles"} {
				assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" ")
			}

			down, err := loadStatements(dbType, "down")
			require.NoError(t, err)
			assert.Len(t, down, 7)
		})
	}

	t.Run("不支持的数据库", func(t *testing.T) {
		_, err := loadStatements("sqlite", "up")
		assert.Error(t, err)
	})
}
