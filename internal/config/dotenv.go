package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Dotenv error reasons.
const (
	DotenvMissingEquals = "missing_equals"
	DotenvEmptyKey      = "empty_key"
	DotenvInvalidKey    = "invalid_key"
)

// DotenvError is one non-fatal parse problem.
type DotenvError struct {
	File       string
	LineNumber int
	Raw        string
	Reason     string
}

// LoadDotenv reads .env then .env.local from dir; later files override
// earlier ones. Parse problems are collected per line, never fatal.
// Keys already present in the process environment are not overridden.
func LoadDotenv(dir string) (map[string]string, []DotenvError) {
	merged := make(map[string]string)
	var errs []DotenvError
	for _, name := range []string{".env", ".env.local"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		vars, fileErrs := ParseDotenv(name, string(data))
		for k, v := range vars {
			merged[k] = v
		}
		errs = append(errs, fileErrs...)
	}
	for k, v := range merged {
		if _, exists := os.LookupEnv(k); !exists {
			os.Setenv(k, v)
		}
	}
	return merged, errs
}

// ParseDotenv parses one dotenv file's content.
func ParseDotenv(file, content string) (map[string]string, []DotenvError) {
	vars := make(map[string]string)
	var errs []DotenvError

	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			errs = append(errs, DotenvError{file, i + 1, raw, DotenvMissingEquals})
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if key == "" {
			errs = append(errs, DotenvError{file, i + 1, raw, DotenvEmptyKey})
			continue
		}
		if !validEnvKey(key) {
			errs = append(errs, DotenvError{file, i + 1, raw, DotenvInvalidKey})
			continue
		}
		vars[key] = parseDotenvValue(strings.TrimSpace(line[eq+1:]))
	}
	return vars, errs
}

// parseDotenvValue handles the three quoting forms: double quotes with
// escapes, single quotes verbatim, and bare values with trailing
// inline comments stripped.
func parseDotenvValue(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return unescapeDouble(v[1 : len(v)-1])
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	// Unquoted: a "#" preceded by whitespace starts a comment.
	for i := 1; i < len(v); i++ {
		if v[i] == '#' && (v[i-1] == ' ' || v[i-1] == '\t') {
			return strings.TrimSpace(v[:i])
		}
	}
	return v
}

func unescapeDouble(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i+1 >= len(v) {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		default:
			b.WriteByte('\\')
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// validEnvKey matches ^[A-Za-z_][A-Za-z0-9_]*$.
func validEnvKey(key string) bool {
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return key != ""
}
