package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

var placeholder = regexp.MustCompile(`\{(book|tmp|library|index):?([^}]*)\}`)

// substituteCommandVariables expands {book:NAME}, {tmp:NAME}, {library} and {index}.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	return placeholder.ReplaceAllStringFunc(command, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		switch parts[1] {
		case "book":
			if p, ok := testCtx.Books[parts[2]]; ok {
				return p
			}
			return filepath.Join(testCtx.LibraryDir, parts[2])
		case "tmp":
			return filepath.Join(testCtx.TempDir, parts[2])
		case "library":
			return testCtx.LibraryDir
		default:
			return testCtx.IndexDir
		}
	})
}

// iRunCommand runs a command line with the scenario environment.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)
	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	testCtx.LastStdout = stdout.String()
	testCtx.LastOutput = stdout.String() + stderr.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	testCtx.LastExitCode = 0
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	}
	return nil
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// stdoutJSON parses stdout as JSON.
func (testCtx *TestContext) stdoutJSON() (any, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(testCtx.LastStdout)), &v); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, testCtx.LastStdout)
	}
	return v, nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.stdoutJSON()
	return err
}

// theJSONOutputFieldShouldBe compares a dotted path such as "pages.0.page.page_number".
func (testCtx *TestContext) theJSONOutputFieldShouldBe(path, expected string) error {
	v, err := testCtx.stdoutJSON()
	if err != nil {
		return err
	}
	return expectField(v, path, expected)
}

// expectField walks a dotted path through decoded JSON and compares the value's
// string form with expected.
func expectField(v any, path, expected string) error {
	got, err := lookup(v, path)
	if err != nil {
		return err
	}
	if s := fmt.Sprint(got); s != expected {
		return fmt.Errorf("field %s is %q, expected %q", path, s, expected)
	}
	return nil
}

func lookup(v any, path string) (any, error) {
	cur := v
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("field %s not found", path)
			}
			cur = next
		case []any:
			var i int
			if _, err := fmt.Sscanf(key, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %s out of range in %s", key, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %s at %s", path, key)
		}
	}
	return cur, nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := testCtx.substituteCommandVariables(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("expected file %s: %w", path, err)
	}
	return nil
}

// RegisterCommonSteps registers command execution steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON output field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONOutputFieldShouldBe)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}
