package diagnostics

import (
	"regexp"

	"github.com/lexcodex/testforge/framework"
)

// Signature associates a message pattern with its diagnosis.
type Signature struct {
	Pattern   *regexp.Regexp
	Diagnosis framework.Diagnosis
}

const reflectionImport = "org.springframework.test.util.ReflectionTestUtils"

// DefaultSignatures is the ORM/persistence signature table. Order matters:
// specific signatures precede the generic wrapped persistence exception.
var DefaultSignatures = []Signature{
	{
		Pattern: regexp.MustCompile(`(?i)LazyInitializationException|could not initialize proxy|failed to lazily initialize a collection`),
		Diagnosis: framework.Diagnosis{
			Category:       "lazy_initialization",
			Description:    "A lazy association was accessed after the session that loaded it was closed.",
			Fix:            "Annotate the test (or test class) with @Transactional, or load the association eagerly with a JOIN FETCH query before asserting on it.",
			RequiredImport: "org.springframework.transaction.annotation.Transactional",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)detached entity passed to persist|PersistentObjectException`),
		Diagnosis: framework.Diagnosis{
			Category:       "generated_value_setid",
			Description:    "An entity with a generated identifier was given an id before persist, so the ORM treats it as detached.",
			Fix:            "Do not call setId() on entities whose id is @GeneratedValue; let the repository assign it, or inject it with ReflectionTestUtils.setField(entity, \"id\", 1L) only for mocked repositories.",
			RequiredImport: reflectionImport,
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)EntityNotFoundException|Unable to find [\w.$]+ with id|No entity found for query`),
		Diagnosis: framework.Diagnosis{
			Category:    "entity_not_found",
			Description: "The test looked up an entity that does not exist in the test database.",
			Fix:         "Persist the entity in the test setup (and flush) before looking it up, or use the id returned by save().",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)TransactionRequiredException|No EntityManager with actual transaction available|no transaction is in progress`),
		Diagnosis: framework.Diagnosis{
			Category:       "no_transaction",
			Description:    "A modifying operation ran without an active transaction.",
			Fix:            "Annotate the test with @Transactional, or use @DataJpaTest which wraps each test in a transaction.",
			RequiredImport: "org.springframework.transaction.annotation.Transactional",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)Session(/EntityManager)? is closed|SessionException`),
		Diagnosis: framework.Diagnosis{
			Category:    "session_closed",
			Description: "The test used a Hibernate session or EntityManager after it was closed.",
			Fix:         "Keep all entity access inside the transactional test method; do not cache managed entities across tests.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)TransientPropertyValueException|TransientObjectException|references an unsaved transient instance`),
		Diagnosis: framework.Diagnosis{
			Category:    "transient_reference",
			Description: "An entity references a related entity that was never saved.",
			Fix:         "Save the related entity first (repository.save or entityManager.persist) before saving the entity that references it.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)ConstraintViolationException|DataIntegrityViolationException|violates (not-null|unique|foreign key) constraint|NULL not allowed for column|\bPropertyValueException|not-null property references a null`),
		Diagnosis: framework.Diagnosis{
			Category:    "constraint_violation",
			Description: "The persisted data violates a database or bean-validation constraint.",
			Fix:         "Populate every required (non-null, unique, valid) field of the test entity before saving it.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)OptimisticLockException|StaleObjectStateException|ObjectOptimisticLockingFailureException|Row was updated or deleted by another transaction`),
		Diagnosis: framework.Diagnosis{
			Category:    "optimistic_lock",
			Description: "The entity version changed between read and write.",
			Fix:         "Reload the entity before updating it and do not set the @Version field manually in tests.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)UnknownEntityException|Unknown entity|Not a managed type`),
		Diagnosis: framework.Diagnosis{
			Category:    "unknown_entity",
			Description: "The class is not mapped as an entity in the test persistence context.",
			Fix:         "Check the class carries @Entity and is inside the scanned packages; use the real entity type instead of a DTO.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)No property '?\w+'? found for type|Failed to create query for method|QueryCreationException`),
		Diagnosis: framework.Diagnosis{
			Category:    "invalid_query_method",
			Description: "A repository query method name does not match the entity's properties.",
			Fix:         "Only call repository methods that exist; rename the derived query method so every segment matches a real entity property.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)could not resolve property|UnknownPathException|PropertyNotFoundException|Could not resolve attribute`),
		Diagnosis: framework.Diagnosis{
			Category:    "unknown_property",
			Description: "A query or mapping refers to a property the entity does not have.",
			Fix:         "Use the entity's actual field names in queries and setters; check the entity source before referencing a property.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)PersistenceException|JpaSystemException|HibernateException`),
		Diagnosis: framework.Diagnosis{
			Category:    "persistence_exception",
			Description: "A wrapped persistence exception was raised.",
			Fix:         "Inspect the nested cause; make sure test entities are fully populated and saved in a transaction.",
		},
	},
}

// CompileSignatures diagnose frequent compiler errors in generated tests.
var CompileSignatures = []Signature{
	{
		Pattern: regexp.MustCompile(`(?i)package org\.junit(\.jupiter)?(\.\w+)* does not exist`),
		Diagnosis: framework.Diagnosis{
			Category:       "junit_import",
			Description:    "The test imports JUnit packages that are not on the test classpath.",
			Fix:            "Use JUnit 5 imports (org.junit.jupiter.api.Test, org.junit.jupiter.api.Assertions) which the project declares.",
			RequiredImport: "org.junit.jupiter.api.Test",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)method setId\(.*\)|cannot find symbol.*setId`),
		Diagnosis: framework.Diagnosis{
			Category:       "generated_value_setid",
			Description:    "The entity exposes no setter for its generated identifier.",
			Fix:            "Replace entity.setId(x) with ReflectionTestUtils.setField(entity, \"id\", x).",
			RequiredImport: reflectionImport,
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)incompatible types: (int|long|double|float) cannot be converted to (java\.lang\.)?(Long|Integer|Double|Float|BigDecimal)`),
		Diagnosis: framework.Diagnosis{
			Category:    "numeric_literal_type",
			Description: "A numeric literal does not match the declared field type.",
			Fix:         "Match literal suffixes to the field type: 1L for Long, 1.0 for Double, 1.0f for Float, new BigDecimal(\"1\") for BigDecimal.",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)reference to assertEquals is ambiguous`),
		Diagnosis: framework.Diagnosis{
			Category:    "ambiguous_assertion",
			Description: "assertEquals was called with arguments of different boxed types.",
			Fix:         "Cast both arguments to the same type, e.g. assertEquals(1L, (long) owner.getId()).",
		},
	},
	{
		Pattern: regexp.MustCompile(`(?i)cannot find symbol`),
		Diagnosis: framework.Diagnosis{
			Category:    "missing_symbol",
			Description: "The test references a class, method or variable that does not exist or is not imported.",
			Fix:         "Import the referenced class, or use only members that exist in the production source.",
		},
	},
}

// Categorize matches text against the signature tables. The returned
// diagnosis is a fresh copy; nil means no signature matched.
func Categorize(text string, kind framework.FailureKind) *framework.Diagnosis {
	tables := [][]Signature{DefaultSignatures}
	if kind == framework.FailureCompilation {
		tables = [][]Signature{CompileSignatures, DefaultSignatures}
	}
	for _, table := range tables {
		for _, sig := range table {
			if sig.Pattern.MatchString(text) {
				d := sig.Diagnosis
				return &d
			}
		}
	}
	return nil
}
