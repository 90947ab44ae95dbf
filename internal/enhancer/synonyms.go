package enhancer

// DomainSynonyms is the curated expansion table for document question
// answering. Keys are lowercase surface words; values are ordered by
// preference.
var DomainSynonyms = map[string][]string{
	"ai":        {"artificial intelligence", "machine learning"},
	"ml":        {"machine learning", "statistical learning"},
	"dl":        {"deep learning", "neural network"},
	"nlp":       {"natural language processing", "text processing"},
	"llm":       {"large language model", "language model"},
	"rag":       {"retrieval augmented generation", "retrieval"},
	"nn":        {"neural network"},
	"db":        {"database"},
	"sql":       {"database", "query"},
	"api":       {"interface", "endpoint"},
	"ui":        {"user interface"},
	"auth":      {"authentication", "authorization"},
	"config":    {"configuration", "settings"},
	"docs":      {"documentation"},
	"doc":       {"document"},
	"repo":      {"repository"},
	"vector":    {"embedding"},
	"embedding": {"vector"},
	"search":    {"retrieval", "lookup"},
	"retrieval": {"search"},
	"error":     {"failure", "exception"},
	"bug":       {"defect", "error"},
	"latency":   {"response time"},
	"perf":      {"performance"},
	"cache":     {"caching"},
	"deploy":    {"deployment", "release"},
	"setup":     {"installation", "configuration"},
	"install":   {"installation", "setup"},
	"recipe":    {"cooking", "dish"},
	"cooking":   {"recipe", "cuisine"},
	"kitchen":   {"cooking"},
}

// TechnicalTerms are never spell-corrected and count as known words.
var TechnicalTerms = []string{
	"api", "apis", "json", "yaml", "http", "https", "grpc", "sql", "nosql",
	"redis", "kafka", "postgres", "postgresql", "docker", "kubernetes",
	"golang", "python", "javascript", "typescript", "bm", "rrf", "tfidf",
	"llm", "llms", "rag", "nlp", "ai", "ml", "embedding", "embeddings",
	"vector", "vectors", "tokenizer", "stemming", "stopword", "stopwords",
	"oauth", "jwt", "uuid", "url", "urls", "cli", "sdk", "cpu", "gpu",
	"artificial", "intelligence", "machine", "learning", "neural",
	"retrieval", "semantic", "lexical", "fusion", "reranker", "chunk",
	"chunking", "corpus", "metadata", "namespace", "webhook", "middleware",
}
