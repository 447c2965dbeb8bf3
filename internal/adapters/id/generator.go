package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateMessageID() string {
	return g.generate("rm")
}

func (g *Generator) GenerateGenerationID() string {
	return g.generate("rg")
}

func (g *Generator) GenerateThoughtID() string {
	return g.generate("rt")
}

func (g *Generator) GenerateLogID() string {
	return g.generate("rl")
}

func (g *Generator) GenerateToolUseID() string {
	return g.generate("rtu")
}

func (g *Generator) GenerateRequestID() string {
	return g.generate("rreq")
}
