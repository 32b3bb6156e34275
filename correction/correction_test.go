package correction

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/testforge/framework"
)

const ownerTest = `package com.example.owner;

import org.junit.jupiter.api.Test;
import static org.junit.jupiter.api.Assertions.assertEquals;

public class OwnerTest {
    @Test
    void formatsBraces() {
        String open = "{"; // a stray { in a comment
        char c = '{';
        /* } */
        String block = """
            {"name": "George"
            """;
        assertEquals("{", open);
    }
}
`

func TestIsValidTestCodeIgnoresLiteralBraces(t *testing.T) {
	assert.True(t, Java.IsValidTestCode(ownerTest))
	assert.Equal(t, 0, BraceBalance(Java, ownerTest))
}

func TestIsValidTestCodeRejectsStructuralImbalance(t *testing.T) {
	unbalanced := strings.TrimSuffix(strings.TrimSpace(ownerTest), "}")
	assert.False(t, Java.IsValidTestCode(unbalanced))
	assert.Equal(t, 1, BraceBalance(Java, unbalanced))

	assert.False(t, Java.IsValidTestCode("class A { @Test void t() {} } }{"))
}

func TestIsValidTestCodeRequiresDeclarationAndMarker(t *testing.T) {
	assert.False(t, Java.IsValidTestCode("public class Helper { void run() {} }"))
	assert.False(t, Java.IsValidTestCode("@Test void t() {}"))
}

func TestBraceScannerHandlesEscapes(t *testing.T) {
	code := `class A { String s = "\"{"; char q = '\''; }`
	assert.Equal(t, 0, BraceBalance(Java, code))
}

func TestGrammarExtractsDeclarations(t *testing.T) {
	assert.Equal(t, "com.example.owner", Java.DeclaredNamespace(ownerTest))
	assert.Equal(t, "OwnerTest", Java.ClassName(ownerTest))
	assert.Equal(t, []string{"org.junit.jupiter.api.Test", "org.junit.jupiter.api.Assertions.assertEquals"}, Java.Imports(ownerTest))
	assert.Equal(t, filepath.Join("src", "test", "java", "com", "example", "owner", "OwnerTest.java"), Java.RelativePath("com.example.owner", "OwnerTest"))

	g, ok := GrammarFor("KT")
	require.True(t, ok)
	assert.Equal(t, Kotlin, g)
}

func priorOwner() []framework.CandidateFile {
	return []framework.CandidateFile{{
		DeclaredNamespace: "com.example.owner",
		ClassName:         "OwnerTest",
		RelativePath:      filepath.Join("src", "test", "java", "com", "example", "owner", "OwnerTest.java"),
		ResolvedPath:      "/repo/owner-service/src/test/java/com/example/owner/OwnerTest.java",
		WriteState:        framework.WriteStateWritten,
	}}
}

func TestExtractKeepsResolvedPathAcrossStrategies(t *testing.T) {
	payload, err := json.Marshal(map[string]interface{}{
		"tool": "write_file",
		"arguments": map[string]interface{}{
			"path":    "OwnerTest.java",
			"content": ownerTest,
		},
	})
	require.NoError(t, err)

	responses := map[string]string{
		"tagged":   "Here is the fix:\n```Java\n" + ownerTest + "```\n",
		"untagged": "```\n" + ownerTest + "```",
		"json":     "Calling tool: " + string(payload),
		"raw":      "Sure, corrected file below.\n\n" + ownerTest + "\nLet me know if it passes.",
	}
	extractor := NewExtractor(Java)
	for name, response := range responses {
		t.Run(name, func(t *testing.T) {
			files := extractor.Extract(context.Background(), response, priorOwner())
			require.Len(t, files, 1)
			assert.Equal(t, "OwnerTest", files[0].ClassName)
			assert.Equal(t, "com.example.owner", files[0].DeclaredNamespace)
			assert.Equal(t, priorOwner()[0].ResolvedPath, files[0].ResolvedPath)
			assert.Equal(t, framework.WriteStateNotWritten, files[0].WriteState)
			assert.Contains(t, files[0].Content, "formatsBraces")
		})
	}
}

func TestExtractPrefersTaggedFences(t *testing.T) {
	other := strings.Replace(ownerTest, "formatsBraces", "fromRawText", 1)
	response := other + "\n```java\n" + ownerTest + "```\n"
	files := NewExtractor(Java).Extract(context.Background(), response, nil)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Content, "formatsBraces")
}

func TestExtractNewClassUsesConventionalPath(t *testing.T) {
	pet := strings.NewReplacer("com.example.owner", "com.example.pet", "OwnerTest", "PetTest").Replace(ownerTest)
	files := NewExtractor(Java).Extract(context.Background(), "```java\n"+pet+"```", priorOwner())
	require.Len(t, files, 1)
	assert.Empty(t, files[0].ResolvedPath)
	assert.Equal(t, filepath.Join("src", "test", "java", "com", "example", "pet", "PetTest.java"), files[0].RelativePath)
}

func TestExtractRejectsInvalidCode(t *testing.T) {
	broken := strings.TrimSuffix(strings.TrimSpace(ownerTest), "}")
	extractor := NewExtractor(Java)
	assert.Empty(t, extractor.Extract(context.Background(), "```java\n"+broken+"\n```", nil))
	assert.Empty(t, extractor.Extract(context.Background(), "I could not fix the test.", nil))
	assert.Empty(t, extractor.Extract(context.Background(), "", nil))
}

type rejectAll struct{}

func (rejectAll) Check(context.Context, string) error { return assert.AnError }

func TestExtractConsultsSyntaxChecker(t *testing.T) {
	extractor := &Extractor{Grammar: Java, Checker: rejectAll{}}
	assert.Empty(t, extractor.Extract(context.Background(), "```java\n"+ownerTest+"```", nil))
}

func TestTreeSitterChecker(t *testing.T) {
	checker := NewJavaSyntaxChecker()
	assert.NoError(t, checker.Check(context.Background(), ownerTest))
	assert.Error(t, checker.Check(context.Background(), "class A { void m() { int x = 1 } }"))
}

func TestRequestBuilderIncludesFailuresFilesAndRules(t *testing.T) {
	failures := []framework.Failure{
		{
			Kind:    framework.FailureCompilation,
			File:    "/repo/src/test/java/com/example/owner/OwnerTest.java",
			Line:    12,
			Column:  9,
			Message: "cannot find symbol",
			Symbol:  "method setId(long)",
			RootCause: &framework.Diagnosis{
				Category:       "generated_value_setid",
				Description:    "no setter",
				Fix:            "use ReflectionTestUtils",
				RequiredImport: "org.springframework.test.util.ReflectionTestUtils",
			},
		},
		{
			Kind:       framework.FailureAssertion,
			TestClass:  "com.example.owner.OwnerTest",
			TestMethod: "nameIsKept",
			Message:    "expected: <George> but was: <Betty>",
			Expected:   "George",
			Actual:     "Betty",
		},
	}
	files := map[string]string{
		"b/PetTest.java":   "class PetTest {}",
		"a/OwnerTest.java": "class OwnerTest {}",
	}
	prompt := NewRequestBuilder(Java).Build(failures, files)

	assert.Contains(t, prompt, "Location: /repo/src/test/java/com/example/owner/OwnerTest.java line 12 column 9")
	assert.Contains(t, prompt, "Required import: org.springframework.test.util.ReflectionTestUtils")
	assert.Contains(t, prompt, "Test: com.example.owner.OwnerTest#nameIsKept")
	assert.Contains(t, prompt, "Expected: George\nActual: Betty")
	assert.Contains(t, prompt, "ReflectionTestUtils.setField")
	assert.Contains(t, prompt, "COMPLETE corrected content")
	assert.Less(t, strings.Index(prompt, "File: a/OwnerTest.java"), strings.Index(prompt, "File: b/PetTest.java"))
}
