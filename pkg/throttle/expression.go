package throttle

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/sandguard/sandguard/pkg/domain"
)

// celEnv exposes the full sample to custom rule expressions. Built once;
// compiled programs are cached per expression so tick-time evaluation never
// recompiles.
var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("cpu", cel.DoubleType),
		cel.Variable("memory_mb", cel.DoubleType),
		cel.Variable("api_rpm", cel.DoubleType),
		cel.Variable("api_in_flight", cel.IntType),
		cel.Variable("db_conns", cel.IntType),
		cel.Variable("db_qpm", cel.DoubleType),
		cel.Variable("storage_mb", cel.DoubleType),
		cel.Variable("storage_files", cel.IntType),
	)
})

var programs = struct {
	mu sync.Mutex
	m  map[string]cel.Program
}{m: make(map[string]cel.Program)}

func compileExpression(expr string) (cel.Program, error) {
	programs.mu.Lock()
	prg, ok := programs.m[expr]
	programs.mu.Unlock()
	if ok {
		return prg, nil
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, domain.NewValidationError("rule.expression", issues.Err().Error())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, domain.NewValidationError("rule.expression", "must evaluate to a boolean")
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, err
	}

	programs.mu.Lock()
	programs.m[expr] = prg
	programs.mu.Unlock()
	return prg, nil
}

func celVars(sample *domain.PerformanceSample) map[string]interface{} {
	return map[string]interface{}{
		"cpu":           sample.CPUUsage,
		"memory_mb":     sample.MemoryMB,
		"api_rpm":       sample.APIRequests,
		"api_in_flight": int64(sample.APIInFlight),
		"db_conns":      int64(sample.DBConns),
		"db_qpm":        sample.DBQueries,
		"storage_mb":    sample.StorageMB,
		"storage_files": int64(sample.StorageFiles),
	}
}

// ValidateExpression compiles a rule expression and rejects it before it can
// enter a sandbox's rule list. Accepted expressions stay cached for
// evaluation.
func ValidateExpression(expr string) error {
	_, err := compileExpression(expr)
	return err
}

// EvalExpression evaluates a custom rule expression against a sample.
func EvalExpression(expr string, sample *domain.PerformanceSample) (bool, error) {
	prg, err := compileExpression(expr)
	if err != nil {
		return false, err
	}

	result, _, err := prg.Eval(celVars(sample))
	if err != nil {
		return false, err
	}

	if b, ok := result.Value().(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expression %q did not evaluate to a boolean", expr)
}
