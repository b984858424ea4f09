package posescript

import (
	"sort"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"
)

const (
	TOKEN_WORD = iota
	TOKEN_NUMBER
	TOKEN_STRING
	TOKEN_NEWLINE
	TOKEN_COMMENT
)

var lexer *lexmachine.Lexer

func init() {
	lexer = lexmachine.NewLexer()
	lexer.Add([]byte(`[a-z]+`), getToken(TOKEN_WORD))
	lexer.Add([]byte(`[\+\-]?[0-9]*\.?[0-9]+`), getToken(TOKEN_NUMBER))
	lexer.Add([]byte(`(\n|\r|\n\r)+`), getToken(TOKEN_NEWLINE))
	lexer.Add([]byte(`//[^\n]*`), getToken(TOKEN_COMMENT))
	lexer.Add([]byte(`[ \t]+`), skip)
	lexer.Add([]byte(`"(\\.|[^"])*"`), getToken(TOKEN_STRING))
}

func getToken(tokenType int) lexmachine.Action {
	return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
		return s.Token(tokenType, string(m.Bytes), m), nil
	}
}

func skip(scan *lexmachine.Scanner, match *machines.Match) (interface{}, error) {
	return nil, nil
}

type statement struct {
	line    int
	keyword string
	args    []*lexmachine.Token
}

func (st *statement) number(i int) (float32, error) {
	tok := st.args[i]
	if tok.Type != TOKEN_NUMBER {
		return 0, errors.Errorf("Line %d: argument %d of %s must be a number, got %q", st.line, i+1, st.keyword, tok.Lexeme)
	}
	f, err := strconv.ParseFloat(string(tok.Lexeme), 32)
	if err != nil {
		return 0, errors.Wrapf(err, "Line %d", st.line)
	}
	return float32(f), nil
}

func (st *statement) vector(from int) (v mgl32.Vec3, err error) {
	for i := range v {
		if v[i], err = st.number(from + i); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (st *statement) expectArgs(n int) error {
	if len(st.args) != n {
		return errors.Errorf("Line %d: %s takes %d arguments, got %d", st.line, st.keyword, n, len(st.args))
	}
	return nil
}

func (st *statement) boneCommand(op Op) (Command, error) {
	if err := st.expectArgs(4); err != nil {
		return Command{}, err
	}
	if st.args[0].Type != TOKEN_STRING {
		return Command{}, errors.Errorf("Line %d: %s expects a quoted bone name, got %q", st.line, st.keyword, st.args[0].Lexeme)
	}
	name, err := strconv.Unquote(string(st.args[0].Lexeme))
	if err != nil {
		return Command{}, errors.Errorf("Line %d: unknown string format %q", st.line, st.args[0].Lexeme)
	}
	v, err := st.vector(1)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: op, Bone: name, Value: v, Line: st.line}, nil
}

type builder struct {
	script  *Script
	current *Keyframe
}

func (b *builder) add(cmd Command) {
	if b.current == nil {
		b.script.Keyframes = append(b.script.Keyframes, Keyframe{})
		b.current = &b.script.Keyframes[len(b.script.Keyframes)-1]
	}
	b.current.Commands = append(b.current.Commands, cmd)
}

func (b *builder) statement(st *statement) error {
	switch st.keyword {
	case "frame":
		if err := st.expectArgs(1); err != nil {
			return err
		}
		f, err := st.number(0)
		if err != nil {
			return err
		}
		if f < 0 {
			return errors.Errorf("Line %d: negative frame %v", st.line, f)
		}
		b.script.Keyframes = append(b.script.Keyframes, Keyframe{Frame: f})
		b.current = &b.script.Keyframes[len(b.script.Keyframes)-1]
	case "rot":
		cmd, err := st.boneCommand(OpRotate)
		if err != nil {
			return err
		}
		b.add(cmd)
	case "move":
		cmd, err := st.boneCommand(OpMove)
		if err != nil {
			return err
		}
		b.add(cmd)
	case "reset":
		if err := st.expectArgs(0); err != nil {
			return err
		}
		b.add(Command{Op: OpReset, Line: st.line})
	default:
		return errors.Errorf("Line %d: unknown command %q", st.line, st.keyword)
	}
	return nil
}

// Parse reads a pose script. Commands before the first frame line belong to frame 0.
func Parse(text []byte) (*Script, error) {
	scanner, err := lexer.Scanner(text)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create lexer scanner")
	}

	b := builder{script: &Script{}}
	var st *statement
	flush := func() error {
		if st == nil {
			return nil
		}
		err := b.statement(st)
		st = nil
		return err
	}

	for Itok, err, eos := scanner.Next(); !eos; Itok, err, eos = scanner.Next() {
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to parse token")
		}
		tok := Itok.(*lexmachine.Token)

		switch tok.Type {
		case TOKEN_WORD:
			if st == nil {
				st = &statement{line: tok.StartLine, keyword: string(tok.Lexeme)}
			} else {
				return nil, errors.Errorf("Multiple commands on line %v (%q)", tok.StartLine, tok.Lexeme)
			}
		case TOKEN_NUMBER, TOKEN_STRING:
			if st == nil {
				return nil, errors.Errorf("Missed command on line %v (%q)", tok.StartLine, tok.Lexeme)
			}
			st.args = append(st.args, tok)
		case TOKEN_NEWLINE:
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	sort.SliceStable(b.script.Keyframes, func(i, j int) bool {
		return b.script.Keyframes[i].Frame < b.script.Keyframes[j].Frame
	})
	b.script.collectBones()
	return b.script, nil
}
