package compiler

import (
	"rook-vm/internal/chunk"
	"rook-vm/internal/token"
	"rook-vm/internal/value"
)

func (p *Parser) declaration() {
	switch {
	case p.match(token.FUNC):
		p.fnDeclaration()
	case p.match(token.VAR):
		p.varDeclaration()
	case p.match(token.CLASS):
		p.error("Classes are not supported.")
	default:
		p.statement()
	}

	if p.panicking {
		p.synchronize()
	}
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("Expected variable name.")

	if p.match(token.ASSIGN) {
		p.expression()
	} else {
		p.emitOp(chunk.OP_NIL)
	}
	p.consume(token.SEMICOLON, "Expected ';' after variable declaration.")

	p.defineVariable(global)
}

// parseVariable consumes the name and returns the operand for its
// definition: a name constant at top level, 0 (unused) inside a scope.
func (p *Parser) parseVariable(message string) byte {
	p.consume(token.IDENTIFIER, message)

	p.declareVariable()
	if p.compiler.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

func (p *Parser) defineVariable(global byte) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitBytes(byte(chunk.OP_DEFINE_GLOBAL), global)
}

func (p *Parser) fnDeclaration() {
	global := p.parseVariable("Expected function name.")
	// Initialized before the body compiles so the function can recurse.
	p.markInitialized()
	p.function(value.TypeFunction)
	p.defineVariable(global)
}

func (p *Parser) function(funcType value.FuncType) {
	fc := newFuncCompiler(p.compiler, funcType, p.previous.Literal)
	fc.chunk.FileName = p.FileName
	p.compiler = fc
	p.beginScope()

	p.consume(token.LPAREN, "Expected '(' after function name.")
	if !p.check(token.RPAREN) {
		for {
			if fc.function.Arity == MaxArity {
				p.errorAtCurrent("Cannot have more than 255 parameters.")
			}
			fc.function.Arity++
			constant := p.parseVariable("Expected parameter name.")
			p.defineVariable(constant)
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "Expected ')' after parameters.")
	p.consume(token.LBRACE, "Expected '{' before function body.")
	p.block()

	fn, upvalues := p.endCompiler()
	p.emitBytes(byte(chunk.OP_CLOSURE), p.makeConstant(value.NewFunction(fn)))
	for _, u := range upvalues {
		if u.IsLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(u.Index)
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(token.IF):
		p.ifStatement()
	case p.match(token.WHILE):
		p.whileStatement()
	case p.match(token.FOR):
		p.forStatement()
	case p.match(token.RETURN):
		p.returnStatement()
	case p.match(token.BREAK):
		p.breakStatement()
	case p.match(token.LBRACE):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) block() {
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.consume(token.RBRACE, "Expected '}' after block.")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(token.SEMICOLON, "Expected ';' after expression.")
	p.emitOp(chunk.OP_POP)
}

func (p *Parser) ifStatement() {
	p.consume(token.LPAREN, "Expected '(' after 'if'.")
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after condition.")

	thenJump := p.emitJump(chunk.OP_JUMP_IF_FALSE)
	p.emitOp(chunk.OP_POP)
	p.statement()
	elseJump := p.emitJump(chunk.OP_JUMP)

	p.patchJump(thenJump)
	p.emitOp(chunk.OP_POP)

	if p.match(token.ELSE) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.currentChunk().Code)
	p.consume(token.LPAREN, "Expected '(' after 'while'.")
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after condition.")

	exitJump := p.emitJump(chunk.OP_JUMP_IF_FALSE)
	p.emitOp(chunk.OP_POP)

	p.beginLoop()
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(chunk.OP_POP)
	p.endLoop()
}

// forStatement sandwiches the increment clause between body and loop-back
// with a forward-then-back jump: the body runs, jumps back to the
// increment, and the increment loops to the condition.
func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(token.LPAREN, "Expected '(' after 'for'.")

	switch {
	case p.match(token.SEMICOLON):
		// no initializer
	case p.match(token.VAR):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.currentChunk().Code)

	exitJump := -1
	if !p.match(token.SEMICOLON) {
		p.expression()
		p.consume(token.SEMICOLON, "Expected ';' after loop condition.")
		exitJump = p.emitJump(chunk.OP_JUMP_IF_FALSE)
		p.emitOp(chunk.OP_POP)
	}

	if !p.match(token.RPAREN) {
		bodyJump := p.emitJump(chunk.OP_JUMP)
		incrementStart := len(p.currentChunk().Code)
		p.expression()
		p.emitOp(chunk.OP_POP)
		p.consume(token.RPAREN, "Expected ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.beginLoop()
	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(chunk.OP_POP)
	}
	p.endLoop()
	p.endScope()
}

func (p *Parser) returnStatement() {
	if p.compiler.funcType == value.TypeScript {
		p.error("Cannot return from top-level code.")
	}

	if p.match(token.SEMICOLON) {
		p.emitReturn()
		return
	}
	p.expression()
	p.consume(token.SEMICOLON, "Expected ';' after return value.")
	p.emitOp(chunk.OP_RETURN)
}

/* Loops and break */

func (p *Parser) beginLoop() {
	p.compiler.loops = append(p.compiler.loops, &loopContext{
		localCount: len(p.compiler.locals),
	})
}

// endLoop lands every recorded break jump on the instruction after the
// loop's cleanup.
func (p *Parser) endLoop() {
	c := p.compiler
	loop := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	for _, offset := range loop.breakJumps {
		p.patchJump(offset)
	}
}

func (p *Parser) breakStatement() {
	c := p.compiler
	if len(c.loops) == 0 {
		p.error("Cannot use 'break' outside of a loop.")
		p.consume(token.SEMICOLON, "Expected ';' after 'break'.")
		return
	}
	p.consume(token.SEMICOLON, "Expected ';' after 'break'.")

	// Discard the locals declared inside the loop body without forgetting
	// them; the statements after the loop still see the compiler state.
	loop := c.loops[len(c.loops)-1]
	for i := len(c.locals) - 1; i >= loop.localCount; i-- {
		if c.locals[i].IsCaptured {
			p.emitOp(chunk.OP_CLOSE_UPVALUE)
		} else {
			p.emitOp(chunk.OP_POP)
		}
	}

	loop.breakJumps = append(loop.breakJumps, p.emitJump(chunk.OP_JUMP))
}
