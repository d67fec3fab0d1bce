package signal

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// exception is one exception signature found in a trace.
type exception struct {
	kind    string
	message string
	start   int
	end     int
}

// segment returns the text owned by exceptions[i]: from its signature up to
// the next signature.
func segment(text string, excs []exception, i int) string {
	end := len(text)
	if i+1 < len(excs) {
		end = excs[i+1].start
	}
	return text[excs[i].start:end]
}

// chain splits exceptions into the authoritative root cause (the last one)
// and the outer causes rendered as "Kind: message".
func chain(excs []exception) (exception, []string) {
	root := excs[len(excs)-1]
	var causes []string
	for _, e := range excs[:len(excs)-1] {
		c := e.kind
		if e.message != "" {
			c += ": " + e.message
		}
		causes = append(causes, c)
	}
	return root, causes
}

// structured key=value logs

var kvRe = regexp.MustCompile(`([A-Za-z_][\w.]*)=(?:"((?:[^"\\]|\\.)*)"|'([^']*)'|([^\s,]+))`)

func (p *Parser) parseStructured(text string) (*Signal, bool) {
	kv := map[string]string{}
	for _, m := range kvRe.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		if _, seen := kv[key]; seen {
			continue
		}
		val := m[4]
		switch {
		case m[2] != "":
			val = strings.ReplaceAll(m[2], `\"`, `"`)
		case m[3] != "":
			val = m[3]
		}
		kv[key] = val
	}

	hits := 0
	for _, k := range []string{"service", "classname", "methodname", "errortype"} {
		if kv[k] != "" {
			hits++
		}
	}
	if hits < 2 {
		return nil, false
	}

	sig := &Signal{
		Kind:     kv["errortype"],
		Service:  kv["service"],
		Endpoint: kv["endpoint"],
		Format:   FormatStructured,
	}
	if sig.Kind == "" {
		sig.Kind = UnknownKind
	}
	for _, k := range []string{"message", "msg", "error"} {
		if v := kv[k]; v != "" {
			sig.Message = cleanMessage(v)
			break
		}
	}
	if cls := kv["classname"]; cls != "" || kv["methodname"] != "" {
		line, _ := strconv.Atoi(kv["line"])
		f := Frame{Class: cls, Method: kv["methodname"], File: kv["file"], Line: line}
		sig.Frames = []Frame{f}
		if p.isApplication(structuredNamespace(f)) {
			sig.Primary = &f
		}
	}
	if v := kv["timestamp"]; v != "" {
		sig.Timestamp, sig.RawTimestamp = findTimestamp(v)
		if sig.RawTimestamp == "" {
			sig.RawTimestamp = v
		}
	}
	if v := kv["level"]; v != "" {
		sig.Severity, _ = findSeverity(v)
	}
	return sig, true
}

func structuredNamespace(f Frame) string {
	if f.Class != "" {
		return f.Class
	}
	return f.File
}

// JVM stack traces

var (
	jvmExceptionRe = regexp.MustCompile(`((?:[a-zA-Z_$][\w$]*\.)*[A-Z][\w$]*(?:Exception|Error|Throwable))\b(?::[ \t]*([^\n]*))?`)
	jvmFrameRe     = regexp.MustCompile(`(?m)^[ \t]*at[ \t]+([\w$.<>/\[\]-]+)\.([\w$<>\[\]-]+)\(([^)]*)\)`)
	frameLineRe    = regexp.MustCompile(`(?m)^[ \t]*at[ \t]`)
	jvmMarkerRe    = regexp.MustCompile(`Exception in thread "|Caused by: |with root cause`)
)

// exceptionsOutsideFrames finds signature matches that are not part of a
// stack frame line.
func exceptionsOutsideFrames(re *regexp.Regexp, text string) []exception {
	var out []exception
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		lineStart := strings.LastIndexByte(text[:loc[0]], '\n') + 1
		if frameLineRe.MatchString(text[lineStart:loc[0]] + " ") {
			continue
		}
		e := exception{kind: text[loc[2]:loc[3]], start: loc[0], end: loc[1]}
		if len(loc) > 4 && loc[4] >= 0 {
			e.message = cleanMessage(text[loc[4]:loc[5]])
		}
		out = append(out, e)
	}
	return out
}

func (p *Parser) parseJava(text string) (*Signal, bool) {
	excs := exceptionsOutsideFrames(jvmExceptionRe, text)
	if len(excs) == 0 {
		return nil, false
	}
	if !jvmFrameRe.MatchString(text) && !jvmMarkerRe.MatchString(text) {
		return nil, false
	}

	root, causes := chain(excs)
	sig := &Signal{
		Kind:    root.kind,
		Message: root.message,
		Causes:  causes,
		Format:  FormatJava,
	}
	sig.Frames = javaFrames(segment(text, excs, len(excs)-1))
	sig.Primary = p.primaryOf(sig.Frames, classNamespace)
	if sig.Primary == nil {
		sig.Primary = p.primaryOf(javaFrames(text), classNamespace)
	}
	return sig, true
}

func javaFrames(text string) []Frame {
	var frames []Frame
	for _, m := range jvmFrameRe.FindAllStringSubmatch(text, -1) {
		cls := m[1]
		// module prefixes such as java.base/ or app//
		if i := strings.LastIndex(cls, "/"); i >= 0 {
			cls = cls[i+1:]
		}
		f := Frame{Class: cls, Method: m[2]}
		loc := m[3]
		if i := strings.LastIndexByte(loc, ':'); i >= 0 {
			if n, err := strconv.Atoi(loc[i+1:]); err == nil {
				f.Line = n
				loc = loc[:i]
			}
		}
		f.File = loc
		frames = append(frames, f)
	}
	return frames
}

// Go panics

var (
	goPanicRe = regexp.MustCompile(`(?m)^[ \t]*panic: ([^\n]*)`)
	goFuncRe  = regexp.MustCompile(`^([^\s()][^\s]*?)\((?:[^)]*)\)$`)
	goFileRe  = regexp.MustCompile(`^\t([^\s]+\.go):(\d+)`)
)

func (p *Parser) parseGo(text string) (*Signal, bool) {
	locs := goPanicRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, false
	}
	var excs []exception
	for _, loc := range locs {
		msg := strings.TrimSuffix(strings.TrimSpace(text[loc[2]:loc[3]]), " [recovered]")
		excs = append(excs, exception{kind: goPanicKind(msg), message: cleanMessage(msg), start: loc[0], end: loc[1]})
	}
	root, causes := chain(excs)
	sig := &Signal{
		Kind:    root.kind,
		Message: root.message,
		Causes:  causes,
		Format:  FormatGo,
	}
	sig.Frames = goFrames(text)
	sig.Primary = p.primaryOf(sig.Frames, p.goNamespace)
	return sig, true
}

func goPanicKind(msg string) string {
	if strings.HasPrefix(msg, "runtime error:") {
		return "runtime.Error"
	}
	return "panic"
}

// goNamespace returns the package path of a Go frame, or "" for standard
// library packages (first path element without a dot, other than main).
func (p *Parser) goNamespace(f Frame) string {
	pkg := f.Class
	first := pkg
	if i := strings.IndexByte(pkg, '/'); i >= 0 {
		first = pkg[:i]
	}
	if pkg != "main" && !strings.Contains(first, ".") {
		return ""
	}
	return pkg
}

func goFrames(text string) []Frame {
	lines := strings.Split(text, "\n")
	var frames []Frame
	for i := 0; i+1 < len(lines); i++ {
		fn := strings.TrimSpace(lines[i])
		if strings.HasPrefix(fn, "created by ") || !goFuncRe.MatchString(fn) {
			continue
		}
		fm := goFileRe.FindStringSubmatch(lines[i+1])
		if fm == nil {
			continue
		}
		name := fn[:strings.LastIndexByte(fn, '(')]
		pkg, method := splitGoFunc(name)
		line, _ := strconv.Atoi(fm[2])
		frames = append(frames, Frame{Class: pkg, Method: method, File: fm[1], Line: line})
		i++
	}
	return frames
}

// splitGoFunc splits "github.com/acme/app/cart.(*Cart).Add" into the package
// path and the function name.
func splitGoFunc(name string) (string, string) {
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return name, ""
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}

// Python tracebacks

var (
	pyTracebackRe = regexp.MustCompile(`Traceback \(most recent call last\):`)
	pyFrameRe     = regexp.MustCompile(`(?m)^[ \t]*File "([^"]+)", line (\d+)(?:, in (\S+))?`)
	pyExceptionRe = regexp.MustCompile(`(?m)^((?:[A-Za-z_]\w*\.)*[A-Z]\w*)(?:: ([^\n]*))?$`)
)

func (p *Parser) parsePython(text string) (*Signal, bool) {
	blocks := pyTracebackRe.FindAllStringIndex(text, -1)
	if len(blocks) == 0 {
		if !pyFrameRe.MatchString(text) {
			return nil, false
		}
		blocks = [][]int{{0, 0}}
	}

	// Python prints the original exception first and each exception raised
	// while handling it afterwards, so the first block holds the root cause.
	var excs []exception
	rootBlock := -1
	for i, b := range blocks {
		end := len(text)
		if i+1 < len(blocks) {
			end = blocks[i+1][0]
		}
		e, ok := lastPythonException(text[b[0]:end])
		if !ok {
			continue
		}
		if rootBlock < 0 {
			rootBlock = i
		}
		excs = append(excs, e)
	}
	if len(excs) == 0 {
		return nil, false
	}

	root := excs[0]
	var causes []string
	for _, e := range excs[1:] {
		c := e.kind
		if e.message != "" {
			c += ": " + e.message
		}
		causes = append(causes, c)
	}

	blockEnd := len(text)
	if rootBlock+1 < len(blocks) {
		blockEnd = blocks[rootBlock+1][0]
	}
	sig := &Signal{
		Kind:    root.kind,
		Message: root.message,
		Causes:  causes,
		Format:  FormatPython,
	}
	sig.Frames = pythonFrames(text[blocks[rootBlock][0]:blockEnd])
	sig.Primary = p.primaryOf(reversed(sig.Frames), fileNamespace)
	if sig.Primary == nil {
		sig.Primary = p.primaryOf(reversed(pythonFrames(text)), fileNamespace)
	}
	return sig, true
}

// lastPythonException returns the final unindented "Kind: message" line of a
// traceback block, which is the exception it raised.
func lastPythonException(block string) (exception, bool) {
	var found exception
	ok := false
	for _, loc := range pyExceptionRe.FindAllStringSubmatchIndex(block, -1) {
		kind := block[loc[2]:loc[3]]
		if !looksLikePythonException(kind) {
			continue
		}
		found = exception{kind: kind, start: loc[0], end: loc[1]}
		if loc[4] >= 0 {
			found.message = cleanMessage(block[loc[4]:loc[5]])
		}
		ok = true
	}
	return found, ok
}

func looksLikePythonException(kind string) bool {
	short := kind[strings.LastIndexByte(kind, '.')+1:]
	for _, suffix := range []string{"Error", "Exception", "Exit", "Interrupt", "Warning", "Iteration", "Fault"} {
		if strings.HasSuffix(short, suffix) {
			return true
		}
	}
	return false
}

func pythonFrames(text string) []Frame {
	var frames []Frame
	for _, m := range pyFrameRe.FindAllStringSubmatch(text, -1) {
		line, _ := strconv.Atoi(m[2])
		module := strings.TrimSuffix(path.Base(m[1]), ".py")
		frames = append(frames, Frame{Class: module, Method: m[3], File: m[1], Line: line})
	}
	return frames
}

func reversed(frames []Frame) []Frame {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[len(frames)-1-i] = f
	}
	return out
}

// Node.js errors

var (
	nodeErrorRe = regexp.MustCompile(`(?m)(?:^|[\s\]])(?:Uncaught )?([A-Z]\w*(?:Error|Exception)|Error)(?: \[\w+\])?: ([^\n]*)$`)
	nodeFrameRe = regexp.MustCompile(`(?m)^[ \t]*at (?:(?:async |new )?([^\s(]+(?: \[as [^\]]+\])?) \()?([^\s()]+?):(\d+):\d+\)?$`)
)

func (p *Parser) parseNode(text string) (*Signal, bool) {
	if !nodeFrameRe.MatchString(text) {
		return nil, false
	}
	var excs []exception
	for _, loc := range nodeErrorRe.FindAllStringSubmatchIndex(text, -1) {
		excs = append(excs, exception{
			kind:    text[loc[2]:loc[3]],
			message: cleanMessage(text[loc[4]:loc[5]]),
			start:   loc[0],
			end:     loc[1],
		})
	}
	if len(excs) == 0 {
		return nil, false
	}
	root, causes := chain(excs)
	sig := &Signal{
		Kind:    root.kind,
		Message: root.message,
		Causes:  causes,
		Format:  FormatNode,
	}
	sig.Frames = nodeFrames(segment(text, excs, len(excs)-1))
	sig.Primary = p.primaryOf(sig.Frames, fileNamespace)
	if sig.Primary == nil {
		sig.Primary = p.primaryOf(nodeFrames(text), fileNamespace)
	}
	return sig, true
}

func nodeFrames(text string) []Frame {
	var frames []Frame
	for _, m := range nodeFrameRe.FindAllStringSubmatch(text, -1) {
		line, _ := strconv.Atoi(m[3])
		file := strings.TrimPrefix(m[2], "file://")
		method := m[1]
		if method == "" {
			method = "<anonymous>"
		}
		module := path.Base(file)
		module = strings.TrimSuffix(module, path.Ext(module))
		frames = append(frames, Frame{Class: module, Method: method, File: file, Line: line})
	}
	return frames
}

// bare exception signatures with no recognizable frames

var bareExceptionRe = regexp.MustCompile(`\b((?:[A-Za-z_$][\w$]*\.)*[A-Z][\w$]*(?:Exception|Error))\b(?::[ \t]*([^\n]*))?`)

func (p *Parser) parseBareException(text string) (*Signal, bool) {
	excs := exceptionsOutsideFrames(bareExceptionRe, text)
	if len(excs) == 0 {
		return nil, false
	}
	root, causes := chain(excs)
	return &Signal{
		Kind:    root.kind,
		Message: root.message,
		Causes:  causes,
		Format:  FormatGeneric,
	}, true
}
