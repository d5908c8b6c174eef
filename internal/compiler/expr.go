package compiler

import (
	"strconv"

	"rook-vm/internal/chunk"
	"rook-vm/internal/token"
	"rook-vm/internal/value"
)

type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssign
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// One rule per token type; tokens without an entry parse as nothing.
var rules map[token.TokenType]parseRule

func init() {
	rules = map[token.TokenType]parseRule{
		token.LPAREN:     {(*Parser).grouping, (*Parser).call, PrecCall},
		token.MINUS:      {(*Parser).unary, (*Parser).binary, PrecTerm},
		token.PLUS:       {nil, (*Parser).binary, PrecTerm},
		token.SLASH:      {nil, (*Parser).binary, PrecFactor},
		token.STAR:       {nil, (*Parser).binary, PrecFactor},
		token.NOT:        {(*Parser).unary, nil, PrecNone},
		token.EQ:         {nil, (*Parser).binary, PrecEquality},
		token.NEQ:        {nil, (*Parser).binary, PrecEquality},
		token.GT:         {nil, (*Parser).binary, PrecComparison},
		token.GTE:        {nil, (*Parser).binary, PrecComparison},
		token.LT:         {nil, (*Parser).binary, PrecComparison},
		token.LTE:        {nil, (*Parser).binary, PrecComparison},
		token.AND:        {nil, (*Parser).and, PrecAnd},
		token.OR:         {nil, (*Parser).or, PrecOr},
		token.IDENTIFIER: {(*Parser).variable, nil, PrecNone},
		token.STRING:     {(*Parser).stringLiteral, nil, PrecNone},
		token.INT:        {(*Parser).number, nil, PrecNone},
		token.FLOAT:      {(*Parser).number, nil, PrecNone},
		token.TRUE:       {(*Parser).literal, nil, PrecNone},
		token.FALSE:      {(*Parser).literal, nil, PrecNone},
		token.NIL:        {(*Parser).literal, nil, PrecNone},
	}
}

func getRule(t token.TokenType) parseRule {
	return rules[t]
}

// parsePrecedence drives Pratt dispatch: one prefix handler, then infix
// handlers while the next operator binds tighter than prec. Only a
// context at assignment precedence or lower may consume '='; the flag
// travels into the handlers so `a + b = c` fails instead of compiling.
func (p *Parser) parsePrecedence(prec Precedence) {
	p.advance()
	prefix := getRule(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expected expression.")
		return
	}

	canAssign := prec <= PrecAssign
	prefix(p, canAssign)

	for prec < getRule(p.current.Type).precedence {
		p.advance()
		infix := getRule(p.previous.Type).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(token.ASSIGN) {
		p.error("Invalid assignment target.")
	}
}

func (p *Parser) expression() {
	p.parsePrecedence(PrecAssign)
}

func (p *Parser) number(canAssign bool) {
	if p.previous.Type == token.FLOAT {
		val, err := strconv.ParseFloat(p.previous.Literal, 64)
		if err != nil {
			p.error("Invalid number literal.")
			return
		}
		p.emitConstant(value.NewFloat(val))
	} else {
		val, err := strconv.ParseInt(p.previous.Literal, 0, 64)
		if err != nil {
			p.error("Invalid number literal.")
			return
		}
		p.emitConstant(value.NewInt(val))
	}
}

func (p *Parser) stringLiteral(canAssign bool) {
	lexeme := p.previous.Literal
	// The lexeme still carries its quotes.
	p.emitConstant(value.NewString(lexeme[1 : len(lexeme)-1]))
}

func (p *Parser) literal(canAssign bool) {
	switch p.previous.Type {
	case token.TRUE:
		p.emitOp(chunk.OP_TRUE)
	case token.FALSE:
		p.emitOp(chunk.OP_FALSE)
	case token.NIL:
		p.emitOp(chunk.OP_NIL)
	}
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after expression.")
}

func (p *Parser) unary(canAssign bool) {
	opType := p.previous.Type
	p.parsePrecedence(PrecUnary)
	switch opType {
	case token.NOT:
		p.emitOp(chunk.OP_NOT)
	case token.MINUS:
		p.emitOp(chunk.OP_NEGATE)
	}
}

// binary decides integer versus float arithmetic at emission time: if the
// token before the operator or the last token of the right-hand side was
// a float literal, the float opcode is used. Mixed arithmetic routed
// through variables is not modeled deeper than this.
func (p *Parser) binary(canAssign bool) {
	leftHand := p.preprevious.Type
	opType := p.previous.Type
	rule := getRule(opType)
	p.parsePrecedence(rule.precedence)

	floating := p.previous.Type == token.FLOAT || leftHand == token.FLOAT
	switch opType {
	case token.PLUS:
		p.emitArith(floating, chunk.OP_FADD, chunk.OP_IADD)
	case token.MINUS:
		p.emitArith(floating, chunk.OP_FSUB, chunk.OP_ISUB)
	case token.STAR:
		p.emitArith(floating, chunk.OP_FMUL, chunk.OP_IMUL)
	case token.SLASH:
		p.emitArith(floating, chunk.OP_FDIV, chunk.OP_IDIV)
	case token.EQ:
		p.emitOp(chunk.OP_EQUAL)
	case token.NEQ:
		p.emitOp(chunk.OP_NEQUAL)
	case token.GT:
		p.emitOp(chunk.OP_GREATER)
	case token.GTE:
		p.emitOp(chunk.OP_GREATER_EQUAL)
	case token.LT:
		p.emitOp(chunk.OP_LESS)
	case token.LTE:
		p.emitOp(chunk.OP_LESS_EQUAL)
	}
}

func (p *Parser) emitArith(floating bool, fop, iop chunk.OpCode) {
	if floating {
		p.emitOp(fop)
	} else {
		p.emitOp(iop)
	}
}

// and compiles to a conditional jump over the right operand. The branch
// peeks without popping; the explicit POP discards the left value when
// evaluation continues.
func (p *Parser) and(canAssign bool) {
	endJump := p.emitJump(chunk.OP_JUMP_IF_FALSE)
	p.emitOp(chunk.OP_POP)
	p.parsePrecedence(PrecAnd)
	p.patchJump(endJump)
}

func (p *Parser) or(canAssign bool) {
	elseJump := p.emitJump(chunk.OP_JUMP_IF_FALSE)
	endJump := p.emitJump(chunk.OP_JUMP)

	p.patchJump(elseJump)
	p.emitOp(chunk.OP_POP)

	p.parsePrecedence(PrecOr)
	p.patchJump(endJump)
}

func (p *Parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

// namedVariable resolves an identifier as local slot, upvalue, or global
// name constant, in that order, and emits the matching get or set.
func (p *Parser) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp chunk.OpCode
	var arg byte

	if slot := p.resolveLocal(p.compiler, name); slot != -1 {
		arg = byte(slot)
		getOp, setOp = chunk.OP_GET_LOCAL, chunk.OP_SET_LOCAL
	} else if index := p.resolveUpvalue(p.compiler, name); index != -1 {
		arg = byte(index)
		getOp, setOp = chunk.OP_GET_UPVALUE, chunk.OP_SET_UPVALUE
	} else {
		arg = p.identifierConstant(name)
		getOp, setOp = chunk.OP_GET_GLOBAL, chunk.OP_SET_GLOBAL
	}

	if canAssign && p.match(token.ASSIGN) {
		p.expression()
		p.emitBytes(byte(setOp), arg)
	} else {
		p.emitBytes(byte(getOp), arg)
	}
}

func (p *Parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitBytes(byte(chunk.OP_CALL), argCount)
}

func (p *Parser) argumentList() byte {
	argCount := 0
	if !p.check(token.RPAREN) {
		for {
			p.expression()
			if argCount == MaxArity {
				p.error("Cannot have more than 255 arguments.")
			}
			argCount++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "Expected ')' after arguments.")
	return byte(argCount)
}
