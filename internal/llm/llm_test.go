package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devaihq/devai/internal/models"
)

func TestBuildExecutePrompt(t *testing.T) {
	project := &models.Project{
		Name:        "shop",
		Description: "An online store",
		Summary:     "Laravel storefront with a Vue admin panel",
		TechStack:   []string{"PHP", "Laravel"},
	}
	task := &models.Task{
		Title:       "Add logging",
		Description: "Log all checkout failures",
	}

	t.Run("system prompt carries project context", func(t *testing.T) {
		system, _ := buildExecutePrompt(project, task)

		assert.Contains(t, system, "expert PHP, Laravel developer")
		assert.Contains(t, system, "working on the project: shop")
		assert.Contains(t, system, "An online store")
		assert.Contains(t, system, "Laravel storefront")
	})

	t.Run("system prompt fixes the response format", func(t *testing.T) {
		system, _ := buildExecutePrompt(project, task)

		assert.Contains(t, system, "```path/to/file.ext")
		assert.Contains(t, system, `"update:"`)
		assert.Contains(t, system, `"delete:"`)
		assert.Contains(t, system, "forward slashes")
	})

	t.Run("user prompt carries the task", func(t *testing.T) {
		_, user := buildExecutePrompt(project, task)

		assert.Contains(t, user, "Task: Add logging")
		assert.Contains(t, user, "Description: Log all checkout failures")
		assert.Contains(t, user, "complete solution")
	})

	t.Run("empty optional fields are omitted", func(t *testing.T) {
		bare := &models.Project{Name: "bare"}
		system, user := buildExecutePrompt(bare, &models.Task{Title: "Do it"})

		assert.Contains(t, system, "You are an expert developer")
		assert.NotContains(t, system, "Project description")
		assert.NotContains(t, system, "Project summary")
		assert.NotContains(t, user, "Description:")
	})
}

func TestBuildAnalyzePrompt(t *testing.T) {
	project := &models.Project{Name: "shop"}
	files := []models.ProjectFile{
		{Path: "app/Models/Order.php", Content: "<?php class Order {}"},
		{Path: "resources/js/app.js", Content: "import Vue from 'vue'"},
	}

	t.Run("lists every path and inlines contents", func(t *testing.T) {
		system, user := buildAnalyzePrompt(project, files)

		assert.Contains(t, system, "software architect")
		assert.Contains(t, user, "Project: shop")
		assert.Contains(t, user, "app/Models/Order.php")
		assert.Contains(t, user, "resources/js/app.js")
		assert.Contains(t, user, "class Order")
		assert.Contains(t, user, "import Vue")
	})

	t.Run("truncates oversized files", func(t *testing.T) {
		big := []models.ProjectFile{{Path: "big.txt", Content: strings.Repeat("x", analyzeFileLimit*2)}}
		_, user := buildAnalyzePrompt(project, big)

		assert.Less(t, len(user), analyzeFileLimit*2)
	})

	t.Run("inlines at most the file cap", func(t *testing.T) {
		var many []models.ProjectFile
		for i := 0; i < maxAnalyzeFiles+10; i++ {
			many = append(many, models.ProjectFile{
				Path:    "file" + strings.Repeat("x", i%3) + ".go",
				Content: "UNIQUE-BODY",
			})
		}
		_, user := buildAnalyzePrompt(project, many)

		assert.Equal(t, maxAnalyzeFiles, strings.Count(user, "UNIQUE-BODY"))
	})
}
