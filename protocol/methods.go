package protocol

// LSP method constants for the subset the bridge speaks.
const (
	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
	MethodSetTrace    = "$/setTrace"
	MethodCancel      = "$/cancelRequest"

	// Text document sync
	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidClose  = "textDocument/didClose"

	// Workspace
	MethodDidChangeConfiguration = "workspace/didChangeConfiguration"

	// Language features
	MethodHover      = "textDocument/hover"
	MethodDefinition = "textDocument/definition"
	MethodReferences = "textDocument/references"

	// Engine notifications (engine -> bridge)
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"

	// Engine requests (engine -> bridge)
	MethodShowMessageRequest     = "window/showMessageRequest"
	MethodRegisterCapability     = "client/registerCapability"
	MethodUnregisterCapability   = "client/unregisterCapability"
	MethodWorkspaceConfiguration = "workspace/configuration"
)
